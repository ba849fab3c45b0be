package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"automator-go/internal/app"
	"automator-go/internal/config"
	"automator-go/internal/logging"
)

func main() {
	configPath := flag.String("config", "./configs/config.json", "path to the JSON config file (empty for defaults and environment only)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "automator: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "automator: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create a new application instance
	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to create application", "error", err)
	}

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		logger.Fatalw("Application failed to start", "error", err)
	}

	<-ctx.Done()
	logger.Infow("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Errorw("Error during graceful shutdown", "error", err)
	}

	logger.Infow("Application has stopped")
}
