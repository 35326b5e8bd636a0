package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	au "github.com/panyam/authsite"
	"github.com/panyam/authsite/config"
)

// operate runs one of the account maintenance commands
func operate(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(out)
	admin := fs.Bool("admin", false, "create the account with the admin role")
	verified := fs.Bool("verified", false, "create the account verified and active")
	if err := fs.Parse(args); err != nil {
		return err
	}

	want := 1
	if cmd == "create-user" || cmd == "set-password" {
		want = 2
	}
	if fs.NArg() != want {
		return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, want, fs.NArg())
	}

	site, _, err := newSite(cfg, logger)
	if err != nil {
		return err
	}
	accounts := site.Accounts
	email := fs.Arg(0)

	switch cmd {
	case "make-admin":
		account, err := accounts.GrantRole(ctx, email, au.RoleAdmin)
		if err != nil {
			return lookupError(email, err)
		}
		fmt.Fprintf(out, "%s is now an admin\n", account.User.Email)
	case "verify-user":
		account, err := accounts.MarkVerified(ctx, email)
		if err != nil {
			return lookupError(email, err)
		}
		fmt.Fprintf(out, "%s is verified and active\n", account.User.Email)
	case "check-user":
		account, err := accounts.Lookup(ctx, email)
		if err != nil {
			return lookupError(email, err)
		}
		printAccount(out, account)
	case "create-user":
		role := au.RoleUser
		if *admin {
			role = au.RoleAdmin
		}
		account, err := accounts.CreateUser(ctx, email, fs.Arg(1), role, *verified)
		if err != nil {
			return err
		}
		printAccount(out, account)
	case "set-password":
		account, err := accounts.Lookup(ctx, email)
		if err != nil {
			return lookupError(email, err)
		}
		if err := accounts.ChangePassword(ctx, account.User.ID, fs.Arg(1)); err != nil {
			return err
		}
		fmt.Fprintf(out, "password updated for %s\n", account.User.Email)
	}
	return nil
}

func lookupError(email string, err error) error {
	if errors.Is(err, au.ErrNotFound) {
		return fmt.Errorf("no user found with email %s", email)
	}
	return err
}

func printAccount(out io.Writer, a *au.Account) {
	fmt.Fprintf(out, "User:           %s\n", a.User.ID)
	fmt.Fprintf(out, "Email:          %s\n", a.User.Email)
	fmt.Fprintf(out, "Active:         %t\n", a.User.IsActive)
	fmt.Fprintf(out, "Email verified: %t\n", a.Profile.EmailVerified)
	fmt.Fprintf(out, "Role:           %s\n", a.Profile.Role)
	fmt.Fprintf(out, "Joined:         %s\n", a.User.CreatedAt.Format("2006-01-02 15:04"))
	if a.User.LastLoginAt != nil {
		fmt.Fprintf(out, "Last login:     %s\n", a.User.LastLoginAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(out, "Password login: %t\n", au.HasUsablePassword(a.User))
}

// setupSocial checks the Google credentials and prints what must be
// registered in the Google console
func setupSocial(cfg config.Config, out io.Writer) error {
	if !cfg.GoogleEnabled() {
		return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
	}
	fmt.Fprintln(out, "Google login is configured.")
	fmt.Fprintf(out, "Authorized JavaScript origin: %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "Authorized redirect URI:      %s\n", cfg.GoogleCallbackURL)
	return nil
}
