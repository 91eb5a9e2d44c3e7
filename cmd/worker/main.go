// Package main provides the sync worker entry point. It periodically
// re-syncs aggregated accounts whose data has gone stale.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Refresh one batch of stale accounts and exit")
	batchSize := flag.Int("batch", 100, "Accounts refreshed per poll")
	flag.Parse()

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

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Refresher:    a.Sync,
		PollInterval: cfg.Sync.Interval,
		StaleAfter:   cfg.Sync.StaleAfter,
		BatchSize:    *batchSize,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		refreshed, err := syncWorker.Poll(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Refresh failed")
		}
		logger.WithFields(map[string]interface{}{
			"accounts": refreshed,
			"stats":    a.Sync.Stats(),
		}).Info("Refresh complete")
		return
	}

	if err := syncWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync worker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down sync worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout+10*time.Second)
	defer stopCancel()
	if err := syncWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Sync worker did not stop cleanly")
	}

	logger.Info("Worker stopped")
}
