package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

// passwordEnv is read when --password is not given, before prompting.
const passwordEnv = "AUTHCLIENT_PASSWORD"

func newLoginCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password. With --provider the third-party
provider login is used and its token exchanged for an app session.

The password is taken from --password, then AUTHCLIENT_PASSWORD, then an
interactive prompt.`,
		RunE: env.run(func(cmd *cobra.Command) error {
			email, _ := cmd.Flags().GetString("email")
			useProvider, _ := cmd.Flags().GetBool("provider")
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			creds := auth.Credentials{Email: email, Password: password}

			var session *sessions.Session
			if useProvider {
				session, err = env.service.LoginWithProvider(cmd.Context(), creds)
			} else {
				session, err = env.service.Login(cmd.Context(), creds)
			}
			if err != nil {
				return err
			}
			printSession(cmd, session)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().Bool("provider", false, "sign in through the third-party provider")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginTokenCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login-token",
		Short: "Exchange a provider token for an app session",
		RunE: env.run(func(cmd *cobra.Command) error {
			value, _ := cmd.Flags().GetString("token")
			fields, _ := cmd.Flags().GetStringToString("field")
			session, err := env.service.LoginWithProviderToken(cmd.Context(), value, fields)
			if err != nil {
				return err
			}
			printSession(cmd, session)
			return nil
		}),
	}
	cmd.Flags().String("token", "", "provider token")
	cmd.Flags().StringToString("field", nil, "extra field sent with the exchange, key=value")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLoginOAuthCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login-oauth",
		Short: "Sign in with a native OAuth ID token",
		RunE: env.run(func(cmd *cobra.Command) error {
			provider, _ := cmd.Flags().GetString("provider")
			idToken, _ := cmd.Flags().GetString("id-token")
			accessToken, _ := cmd.Flags().GetString("access-token")
			tok := (&oauth2.Token{AccessToken: accessToken}).WithExtra(map[string]any{"id_token": idToken})
			session, err := env.service.LoginWithOAuthToken(cmd.Context(), provider, tok)
			if err != nil {
				return err
			}
			printSession(cmd, session)
			return nil
		}),
	}
	cmd.Flags().String("provider", "", "OAuth provider name, for example google or apple")
	cmd.Flags().String("id-token", "", "ID token returned by the provider")
	cmd.Flags().String("access-token", "", "access token returned by the provider")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("id-token")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	if password, _ := cmd.Flags().GetString("password"); password != "" {
		return password, nil
	}
	if password := os.Getenv(passwordEnv); password != "" {
		return password, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for the password prompt, use --password or " + passwordEnv)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", errors.Wrap(err, "[readPassword]")
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}
