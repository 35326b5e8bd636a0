// Command authsite runs the authentication site and its operator commands.
//
//	authsite serve
//	authsite make-admin EMAIL
//	authsite verify-user EMAIL
//	authsite check-user EMAIL
//	authsite create-user [-admin] [-verified] EMAIL PASSWORD
//	authsite set-password EMAIL PASSWORD
//	authsite setup-social
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/panyam/authsite/config"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: authsite <command> [arguments]

commands:
  serve                                   run the web server
  make-admin EMAIL                        give an account the admin role
  verify-user EMAIL                       mark an account verified and active
  check-user EMAIL                        print an account's state
  create-user [-admin] [-verified] EMAIL PASSWORD
  set-password EMAIL PASSWORD             set a password and cancel pending reset links
  setup-social                            check the Google login configuration`)
}

func newLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "setup-social":
		err = setupSocial(cfg, stdout)
	case "make-admin", "verify-user", "check-user", "create-user", "set-password":
		err = operate(ctx, cfg, logger, cmd, rest, stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
