package cli

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/spf13/cobra"
)

func newStatusCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session, re-verifying it when due",
		RunE: env.run(func(cmd *cobra.Command) error {
			session, err := env.service.EnsureSession(cmd.Context())
			if err != nil {
				return err
			}
			printSession(cmd, session)
			if overlay, err := env.store.TeamMember(); err == nil && overlay != nil && overlay.LoggedIn {
				fmt.Fprintf(cmd.OutOrStdout(), "team member: %s <%s>\n", overlay.Name, overlay.Email)
			}
			return nil
		}),
	}
}

func newCheckCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the session with the server now",
		RunE: env.run(func(cmd *cobra.Command) error {
			session, err := env.service.CheckSession(cmd.Context())
			if err != nil {
				return err
			}
			printSession(cmd, session)
			return nil
		}),
	}
}

func newLogoutCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local session",
		RunE: env.run(func(cmd *cobra.Command) error {
			err := env.service.Logout(cmd.Context())
			// the local session is gone even when the server call failed
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		}),
	}
}

func printSession(cmd *cobra.Command, s *sessions.Session) {
	w := cmd.OutOrStdout()
	if s == nil {
		fmt.Fprintln(w, "no session")
		return
	}
	if s.User != nil {
		fmt.Fprintf(w, "user: %s <%s>\n", s.User.Name, s.User.Email)
	}
	if s.IsCookieBased() {
		fmt.Fprintln(w, "token: cookie session")
	} else {
		fmt.Fprintf(w, "token: %s\n", token.Redact(s.BearerToken()))
	}
	if setting := utils.Value(s.SettingID); setting != "" {
		fmt.Fprintf(w, "setting: %s\n", setting)
	}
	if s.TokenExpiresAt != nil {
		fmt.Fprintf(w, "expires: %s\n", time.Unix(*s.TokenExpiresAt, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "valid: %t\n", s.IsValid)
}
