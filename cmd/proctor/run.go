package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/proctor/internal/app"
	"github.com/felixgeelhaar/proctor/internal/config"
)

// withApp loads configuration, sets up logging and runs fn with a wired
// application. The context is cancelled on SIGINT or SIGTERM.
func withApp(logName string, fn func(ctx context.Context, a *app.App) error) error {
	dir, err := config.EnsureProctorDir()
	if err != nil {
		return fmt.Errorf("ensure proctor dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := setupLogging(dir, logName, parseLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
