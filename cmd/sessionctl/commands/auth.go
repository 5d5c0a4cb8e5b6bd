package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/utafrali/storefront/pkg/credential"
	"github.com/utafrali/storefront/pkg/sessionclient"
	"github.com/utafrali/storefront/pkg/sessionstate"
)

const loginHint = "sessionctl login"

func (c *cli) registerCmd() *cobra.Command {
	var reg sessionclient.Registration
	var password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			reg.Password = pw

			result, err := c.client.Register(ctx, reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered and signed in as %s\n", describe(&result.User))
			return nil
		}),
	}

	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			pw, err := c.password(password)
			if err != nil {
				return err
			}
			if err := c.provider.Login(ctx, email, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", describe(c.provider.User()))
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			if c.client.AccessToken() == "" && !c.client.HasRefreshCookie() {
				fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			err := c.provider.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		}),
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the saved session and print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			if err := c.provider.Init(ctx); err != nil {
				return err
			}

			guards := []sessionstate.Guard{sessionstate.RequireAuthenticated(loginHint)}
			if len(roles) > 0 {
				guards = append(guards, sessionstate.RequireRole("", roles...))
			}
			if err := decide(c.provider.Check(guards...), roles); err != nil {
				return err
			}

			printSession(cmd.OutOrStdout(), c.provider.User(), c.client.AccessToken())
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&roles, "role", nil, "fail unless the user has one of these roles")
	return cmd
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access credential",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			if !c.client.HasRefreshCookie() {
				return fmt.Errorf("no refresh cookie held: run %s", loginHint)
			}
			if err := c.provider.Refresh(ctx); err != nil {
				if errors.Is(err, sessionclient.ErrSessionEnded) {
					return fmt.Errorf("%w: run %s", err, loginHint)
				}
				return err
			}
			printSession(cmd.OutOrStdout(), c.provider.User(), c.client.AccessToken())
			return nil
		}),
	}
}

// decide turns a guard decision into a command error.
func decide(d sessionstate.Decision, roles []string) error {
	switch {
	case d.Allowed():
		return nil
	case d.Target == loginHint:
		return fmt.Errorf("not signed in: run %s", loginHint)
	default:
		return fmt.Errorf("signed-in user lacks role %s", strings.Join(roles, " or "))
	}
}

func describe(u *sessionclient.User) string {
	if u == nil {
		return "unknown user"
	}
	return fmt.Sprintf("%s %s <%s>", u.FirstName, u.LastName, u.Email)
}

func printSession(w io.Writer, u *sessionclient.User, accessToken string) {
	fmt.Fprintf(w, "user:    %s\n", describe(u))
	if u != nil {
		fmt.Fprintf(w, "id:      %s\n", u.ID)
		fmt.Fprintf(w, "role:    %s\n", u.Role)
	}
	if ttl := credential.TimeToExpiry(accessToken); ttl > 0 {
		fmt.Fprintf(w, "expires: in %s\n", ttl)
	}
}
