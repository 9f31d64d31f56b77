package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"expensedash/internal/core"
	"expensedash/internal/session"
)

func registerCmd(e *env) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account on the expense service. Passwords must be 6 to 12
characters long. Registration does not log you in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := e.readSecret("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := e.readSecret("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			res, err := e.app.Auth.Register(cmd.Context(), core.Credentials{Name: name, Password: password}, confirm)
			if err != nil {
				return err
			}
			msg := res.Message
			if msg == "" {
				msg = "Registration successful"
			}
			fmt.Fprintf(e.stdout, "%s. Log in with 'expensectl login --name %s'.\n", msg, name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "account name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func loginCmd(e *env) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := e.readSecret("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			ctx := cmd.Context()
			user, token, err := e.app.Auth.Login(ctx, core.Credentials{Name: name, Password: password})
			if err != nil {
				return err
			}
			if err := e.app.Sessions.Login(ctx, user, token); err != nil {
				return fmt.Errorf("logged in, but the session could not be saved: %w", err)
			}
			fmt.Fprintf(e.stdout, "Logged in as %s\n", displayName(user))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "account name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func logoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session stored on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.app.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(e.stdout, "Logged out")
			return nil
		},
	}
}

func whoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user and when the token expires",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			user, err := e.currentUser()
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "User:   %s (id %s)\n", displayName(user), user.ID)

			exp, ok := session.TokenExpiry(e.app.Sessions.Token())
			switch {
			case !ok:
				fmt.Fprintln(e.stdout, "Token:  no expiry")
			case exp.Before(e.now()):
				fmt.Fprintf(e.stdout, "Token:  expired %s\n", exp.Local().Format(time.DateTime))
			default:
				fmt.Fprintf(e.stdout, "Token:  expires %s\n", exp.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func displayName(u core.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID.String()
}
