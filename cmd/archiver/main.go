package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/app"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/config"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "archiver start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("archiver starting", "config", map[string]any{
		"app_name":    cfg.AppName,
		"auth_mode":   cfg.AuthMode,
		"concurrency": cfg.Concurrency,
		"seeds_file":  cfg.SeedsFile,
		"sinks_file":  cfg.SinksFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archiver, err := app.NewArchiver(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize archiver", "error", err)
		return err
	}

	if err := archiver.Run(ctx); err != nil {
		return fmt.Errorf("archiver run: %w", err)
	}

	return nil
}
