// Package main provides the snapshot worker entry point.
// It records a valuation snapshot for every active user once a day.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// one-time run mode
	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running snapshot immediately...")
		result, err := a.Snapshots.CaptureAll(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create snapshots")
		}
		logger.WithFields(map[string]interface{}{
			"date":      result.Date,
			"users":     result.Users,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		}).Info("Snapshot complete")
		return
	}

	if err := a.Snapshots.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker...")
	if err := a.Snapshots.Stop(); err != nil {
		logger.WithError(err).Warn("Snapshot scheduler did not stop cleanly")
	}
	logger.Info("Worker stopped")
}
