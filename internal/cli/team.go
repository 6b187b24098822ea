package cli

import (
	"fmt"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/spf13/cobra"
)

func newTeamCmd(env *environment) *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Act as a team member on top of the current session",
	}

	login := &cobra.Command{
		Use:   "login",
		Short: "Obtain delegated access for a team member",
		RunE: env.run(func(cmd *cobra.Command) error {
			email, _ := cmd.Flags().GetString("email")
			code, _ := cmd.Flags().GetString("code")
			password, _ := cmd.Flags().GetString("password")
			overlay, err := env.service.LoginAsTeamMember(cmd.Context(), auth.TeamMemberGrant{
				Email:    email,
				Password: password,
				Code:     code,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "team member: %s <%s> %s\n", overlay.Name, overlay.Email, overlay.Role)
			return nil
		}),
	}
	login.Flags().String("email", "", "team member email")
	login.Flags().String("password", "", "team member password")
	login.Flags().String("code", "", "team member access code")
	_ = login.MarkFlagRequired("email")

	exit := &cobra.Command{
		Use:   "exit",
		Short: "Drop the team member overlay",
		RunE: env.run(func(cmd *cobra.Command) error {
			if err := env.service.ExitTeamMember(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "team member cleared")
			return nil
		}),
	}

	team.AddCommand(login, exit)
	return team
}
