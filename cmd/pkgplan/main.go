package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/pkgplan/internal/app"
	"github.com/vk/pkgplan/internal/cli"
	"github.com/vk/pkgplan/internal/config"
)

// main is the entrypoint for the pkgplan application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if exitErr := cli.Classify(err); exitErr != nil {
		fmt.Fprintln(os.Stderr, exitErr.Message)
		os.Exit(exitErr.Code)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) error {
	env, err := config.LoadEnv(ctx, ".env")
	if err != nil {
		return &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}
	cfg, shouldExit, err := cli.Parse(args, outW, env)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	_, err = app.NewApp(outW, cfg).Run(ctx)
	return err
}
