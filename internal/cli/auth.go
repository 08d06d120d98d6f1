package cli

import (
	"time"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/core"
)

func (r *runner) loginCommand() *cobra.Command {
	var creds core.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if creds.Email == "" {
				if creds.Email, err = r.prompt("Email"); err != nil {
					return err
				}
			}
			if creds.Password == "" {
				if creds.Password, err = r.prompt("Password"); err != nil {
					return err
				}
			}
			u, err := r.app.Budget.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			r.printer.Success("Logged in as %s (%s)", u.Name, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (prompted when empty)")
	return cmd
}

func (r *runner) registerCommand() *cobra.Command {
	var reg core.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if reg.Password == "" {
				if reg.Password, err = r.prompt("Password"); err != nil {
					return err
				}
			}
			if reg.ConfirmPassword == "" {
				if reg.ConfirmPassword, err = r.prompt("Confirm password"); err != nil {
					return err
				}
			}
			u, err := r.app.Budget.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			r.printer.Success("Registration successful for %s, please log in.", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Username, "username", "", "display name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&reg.ConfirmPassword, "confirm", "", "password confirmation (prompted when empty)")
	return cmd
}

func (r *runner) logoutCommand() *cobra.Command {
	return protected(&cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := r.app.Budget.Logout(cmd.Context()); err != nil {
				return err
			}
			r.printer.Success("You have been logged out.")
			return nil
		},
	}, "/logout")
}

func (r *runner) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := r.app.Config
			out := r.printer.Out()
			r.printer.Header("Session")

			u, ok := r.app.Budget.CurrentUser()
			if !ok {
				r.printer.Info("Not logged in")
			} else {
				t := output.NewTable(out, "Field", "Value")
				t.AddRow("User", u.Name)
				t.AddRow("Email", u.Email)
				t.AddRow("ID", u.ID.String())
				if exp, ok := r.app.Session.TokenExpiry(); ok {
					state := "valid"
					if time.Now().After(exp) {
						state = "expired"
					}
					t.AddRow("Token expires", exp.Local().Format(time.RFC1123)+" ("+state+")")
				}
				if err := t.Render(); err != nil {
					return err
				}
			}

			r.printer.Header("Configuration")
			t := output.NewTable(out, "Setting", "Value")
			t.AddRow("API", cfg.APIBaseURL)
			t.AddRow("Storage", cfg.StorageBackend)
			t.AddRow("Force logout on 401", boolWord(cfg.AuthForceLogout))
			t.AddRow("Invalidation broker", boolWord(r.app.broker != nil))
			return t.Render()
		},
	}
}

func (r *runner) profileCommand() *cobra.Command {
	var in core.ProfileUpdate
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, _ := r.app.Budget.CurrentUser()
			if !cmd.Flags().Changed("username") && !cmd.Flags().Changed("email") {
				t := output.NewTable(r.printer.Out(), "Username", "Email")
				t.AddRow(current.Name, current.Email)
				return t.Render()
			}
			if !cmd.Flags().Changed("username") {
				in.Username = current.Name
			}
			if !cmd.Flags().Changed("email") {
				in.Email = current.Email
			}
			u, err := r.app.Budget.UpdateProfile(cmd.Context(), in)
			if err != nil {
				return err
			}
			r.printer.Success("Profile updated: %s (%s)", u.Name, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "new display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "new email")
	return protected(cmd, "/profile")
}

func (r *runner) passwordCommand() *cobra.Command {
	var in core.PasswordChange
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.NewPassword == "" {
				var err error
				if in.NewPassword, err = r.prompt("New password"); err != nil {
					return err
				}
			}
			if err := r.app.Budget.ChangePassword(cmd.Context(), in); err != nil {
				return err
			}
			r.printer.Success("Password changed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&in.NewPassword, "new", "", "new password (prompted when empty)")
	return protected(cmd, "/profile")
}

func boolWord(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
