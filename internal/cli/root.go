// Package cli holds the authctl commands.
package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/transport"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/sessions/sqliterepo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const sessionFile = "session.db"

// environment is built when a command runs and torn down when it returns.
// Commands wrap their RunE with run.
type environment struct {
	configPath string
	cfg        config.Config
	repo       *sqliterepo.Repo
	store      *sessions.Store
	service    *auth.Service
}

// NewRootCommand returns the authctl command tree.
func NewRootCommand() *cobra.Command {
	env := &environment{}
	root := &cobra.Command{
		Use:   "authctl",
		Short: "Sign in and manage the persisted session",
		Long: `authctl drives the client side authentication handshakes: first-party
sign-in, third-party provider login, OAuth and provider token exchange. The
resulting session is persisted under the configured data folder.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&env.configPath, "config", os.Getenv("AUTHCLIENT_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		newLoginCmd(env),
		newLoginTokenCmd(env),
		newLoginOAuthCmd(env),
		newStatusCmd(env),
		newCheckCmd(env),
		newLogoutCmd(env),
		newTeamCmd(env),
	)
	return root
}

func (e *environment) open(ctx context.Context) (returnError error) {
	defer func() {
		if returnError != nil {
			e.close()
		}
	}()

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	setupLogging(cfg.Log)

	key, err := cfg.Session.DecodeSealKey()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Session.DataFolder, 0o700); err != nil {
		return errors.Wrap(err, "[open] data folder")
	}
	var repoOptions []sqliterepo.Option
	if key != nil {
		repoOptions = append(repoOptions, sqliterepo.WithSealKey(key))
	}
	e.repo, err = sqliterepo.Open(filepath.Join(cfg.Session.DataFolder, sessionFile), repoOptions...)
	if err != nil {
		return err
	}

	e.store, err = sessions.NewStore(e.repo,
		sessions.WithVerifyInterval(cfg.Session.VerifyInterval),
		sessions.WithDeviceInfo(sessions.DeviceInfo{
			Platform:   cfg.Session.Platform,
			AppVersion: cfg.Session.AppVersion,
		}),
	)
	if err != nil {
		return err
	}

	client, err := transport.New(
		transport.WithStepTimeout(cfg.HTTP.StepTimeout),
		transport.WithUserAgent(cfg.HTTP.UserAgent),
		transport.WithMaxBodySize(cfg.HTTP.MaxBodySize),
	)
	if err != nil {
		return err
	}

	var serviceOptions []auth.ServiceOption
	verifier, err := auth.NewIDTokenVerifier(ctx, cfg.OAuth)
	if err != nil {
		log.Warn().Err(err).Str("issuer", cfg.OAuth.Issuer).Msg("local ID token verification disabled")
	} else if verifier != nil {
		serviceOptions = append(serviceOptions, auth.WithIDTokenVerifier(verifier))
	}

	e.service, err = auth.NewService(cfg, e.store, client, serviceOptions...)
	return err
}

func (e *environment) close() {
	if e.repo == nil {
		return
	}
	if err := e.repo.Close(); err != nil {
		log.Err(err).Msg("close session store")
	}
	e.repo = nil
}

func (e *environment) run(fn func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := e.open(cmd.Context()); err != nil {
			return err
		}
		defer e.close()
		return fn(cmd)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
