package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reader-dict/website/internal/platform/config"
	"github.com/reader-dict/website/internal/platform/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("readerdict starting",
		"port", cfg.Server.Port,
		"data_dir", cfg.Storage.DataDir,
	)

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.server.Start(ctx) })
	g.Go(func() error { return app.sweeper.Run(ctx) })

	slog.Info("server ready", "addr", app.addr, "providers", app.providers)
	return g.Wait()
}
