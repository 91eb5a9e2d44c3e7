// Package worker runs background account refreshes.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// Refresher re-syncs accounts whose data is older than staleAfter
type Refresher interface {
	RefreshStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

// SyncWorker periodically refreshes stale aggregated accounts
type SyncWorker struct {
	refresher    Refresher
	pollInterval time.Duration
	staleAfter   time.Duration
	batchSize    int
	logger       *logging.Logger

	mu            sync.RWMutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	lastPollTime  time.Time
	lastRefreshed int
	totalRefresh  int
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Refresher    Refresher
	PollInterval time.Duration // default 1 minute
	StaleAfter   time.Duration // default 1 hour
	BatchSize    int           // accounts per poll, default 100
	Logger       *logging.Logger
}

// SyncWorkerStatus reports the worker's state
type SyncWorkerStatus struct {
	Running             bool      `json:"running"`
	LastPollTime        time.Time `json:"lastPollTime"`
	LastRefreshed       int       `json:"lastRefreshed"`
	TotalRefreshed      int       `json:"totalRefreshed"`
	PollIntervalSeconds int       `json:"pollIntervalSeconds"`
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Minute
	}
	if pollInterval < 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", pollInterval)
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SyncWorker{
		refresher:    cfg.Refresher,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
		batchSize:    batchSize,
		logger:       logger.WithField("component", "sync_worker"),
	}, nil
}

// Start begins polling in a goroutine
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Infof("Starting sync worker with poll interval %v, stale after %v", w.pollInterval, w.staleAfter)

	go w.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the sync worker, waiting for an in-flight poll
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	w.logger.Info("Stopping sync worker")

	select {
	case <-done:
		w.logger.Info("Sync worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("Sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// pollLoop is the main polling loop that runs in a goroutine
func (w *SyncWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker context cancelled")
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				// keep polling
				w.logger.WithError(err).Error("Sync worker poll failed")
			}
		}
	}
}

// Poll refreshes one batch of stale accounts and returns how many succeeded
func (w *SyncWorker) Poll(ctx context.Context) (int, error) {
	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.mu.Unlock()

	refreshed, err := w.refresher.RefreshStale(ctx, w.staleAfter, w.batchSize)

	w.mu.Lock()
	w.lastRefreshed = refreshed
	w.totalRefresh += refreshed
	w.mu.Unlock()

	if refreshed > 0 {
		w.logger.WithField("accounts", refreshed).Info("Refreshed stale accounts")
	}
	return refreshed, err
}

// GetStatus returns current worker status
func (w *SyncWorker) GetStatus() *SyncWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &SyncWorkerStatus{
		Running:             w.running,
		LastPollTime:        w.lastPollTime,
		LastRefreshed:       w.lastRefreshed,
		TotalRefreshed:      w.totalRefresh,
		PollIntervalSeconds: int(w.pollInterval.Seconds()),
	}
}
