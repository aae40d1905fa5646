package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/urfave/cli/v3"
)

const (
	exitError    = 1
	exitUsage    = 2
	exitAuth     = 3
	exitNotFound = 4
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnv(".env"); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger, ConfigPath: "config.toml"})
	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		os.Exit(exitCode(logger, err))
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "jukebox",
		Usage:   "Browse, sync and play music from every configured provider",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("JUKEBOX_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Before:   r.Before,
		After:    r.After,
		Commands: r.register(),
	}
}

// exitCode logs err and maps it to a process exit status.
func exitCode(logger *log.Logger, err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, shared.ErrNotImplemented):
		logger.Warn("not implemented", "error", err)
		return 0
	case errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrInvalidFlag), errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidConfig), errors.Is(err, shared.ErrUnsupportedCommand):
		logger.Error("invalid usage", "error", err)
		return exitUsage
	case errors.Is(err, shared.ErrLoginFailed), errors.Is(err, shared.ErrAuthFailed),
		errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrTokenExpired),
		errors.Is(err, shared.ErrMissingCredentials), errors.Is(err, shared.ErrInvalidCredentials):
		logger.Error("authentication failed", "error", err)
		return exitAuth
	case errors.Is(err, shared.ErrMediaNotFound), errors.Is(err, shared.ErrPlaylistNotFound),
		errors.Is(err, shared.ErrTrackNotFound), errors.Is(err, shared.ErrPlayerNotFound):
		logger.Error("not found", "error", err)
		return exitNotFound
	default:
		logger.Error("application error", "error", err)
		return exitError
	}
}
