package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// SnapshotOptions tunes the daily snapshot batch
type SnapshotOptions struct {
	Concurrency    int
	RunHourUTC     int
	LockTTL        time.Duration
	MaxHistoryDays int
}

// SnapshotService captures daily portfolio snapshots and serves history
type SnapshotService struct {
	users     UserRepository
	snapshots SnapshotRepository
	portfolio *PortfolioService
	lock      RunLock
	opts      SnapshotOptions
	owner     string
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSnapshotService creates a new snapshot service. lock may be nil, in
// which case every CaptureAll call runs.
func NewSnapshotService(
	users UserRepository,
	snapshots SnapshotRepository,
	portfolio *PortfolioService,
	lock RunLock,
	opts SnapshotOptions,
) *SnapshotService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 6 * time.Hour
	}
	if opts.MaxHistoryDays <= 0 {
		opts.MaxHistoryDays = 3650
	}

	host, _ := os.Hostname()
	return &SnapshotService{
		users:     users,
		snapshots: snapshots,
		portfolio: portfolio,
		lock:      lock,
		opts:      opts,
		owner:     fmt.Sprintf("%s:%d", host, os.Getpid()),
		now:       time.Now,
	}
}

// BatchResult summarizes one CaptureAll run
type BatchResult struct {
	Date      string    `json:"date"`
	Users     int       `json:"users"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   bool      `json:"skipped"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// HistoryResult is a target's snapshot series plus its current value
type HistoryResult struct {
	TargetType         types.SnapshotTarget        `json:"targetType"`
	TargetID           string                      `json:"targetId"`
	WindowDays         int                         `json:"windowDays"`
	Snapshots          []*models.PortfolioSnapshot `json:"snapshots"`
	InitialValue       *decimal.Decimal            `json:"initialValue"`
	CurrentValue       decimal.Decimal             `json:"currentValue"`
	TotalReturn        *decimal.Decimal            `json:"totalReturn"`
	TotalReturnPercent *decimal.Decimal            `json:"totalReturnPercent"`
}

// DailySnapshot values the user's whole portfolio and appends a snapshot
func (s *SnapshotService) DailySnapshot(ctx context.Context, userID string) (*models.PortfolioSnapshot, error) {
	_, snapshot, err := s.portfolio.summarizeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CaptureAll snapshots every active user with bounded concurrency. A failing
// user is logged and counted; it never stops the rest of the batch. When a
// run lock is configured only one replica runs the batch per UTC day.
func (s *SnapshotService) CaptureAll(ctx context.Context) (*BatchResult, error) {
	logger := logging.FromContext(ctx)
	started := s.now().UTC()
	day := started.Format("2006-01-02")
	result := &BatchResult{Date: day, StartedAt: started}

	lockKey := "snapshot:lock:" + day
	if s.lock != nil {
		acquired, err := s.lock.TryLock(ctx, lockKey, s.owner, s.opts.LockTTL)
		if err != nil {
			// fail open
			logger.WithError(err).Warn("Snapshot run lock unavailable, capturing anyway")
		} else if !acquired {
			logger.WithField("date", day).Info("Snapshot batch already ran today, skipping")
			result.Skipped = true
			return result, nil
		}
	}

	users, err := s.users.ListActive(ctx)
	if err != nil {
		s.releaseRunLock(ctx, lockKey)
		return nil, storeError("list active users", "user", "", err)
	}
	result.Users = len(users)

	logger.Infof("Starting snapshot capture for %d active users", len(users))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, user := range users {
		g.Go(func() error {
			_, err := s.DailySnapshot(ctx, user.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WithField("user_id", user.ID).WithError(err).Error("Snapshot capture failed")
				result.Failed++
			} else {
				result.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = s.now().Sub(started).String()
	logger.WithFields(map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"duration":  result.Duration,
	}).Info("Snapshot capture complete")

	return result, nil
}

// releaseRunLock frees the day's lock after a run that captured nothing so a
// retry on the same day is not skipped
func (s *SnapshotService) releaseRunLock(ctx context.Context, key string) {
	if s.lock == nil {
		return
	}
	if _, err := s.lock.Unlock(context.WithoutCancel(ctx), key, s.owner); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to release snapshot run lock")
	}
}

// AccountHistory returns the history of one of the user's accounts
func (s *SnapshotService) AccountHistory(ctx context.Context, userID, accountID string, windowDays int) (*HistoryResult, error) {
	if err := s.validateWindow(windowDays); err != nil {
		return nil, err
	}
	current, err := s.portfolio.ComputeAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, models.AccountTarget(current.AccountID), windowDays, current.TotalValue)
}

// UserHistory returns the history of the user's whole portfolio
func (s *SnapshotService) UserHistory(ctx context.Context, userID string, windowDays int) (*HistoryResult, error) {
	if err := s.validateWindow(windowDays); err != nil {
		return nil, err
	}
	current, err := s.portfolio.ComputeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, models.UserTarget(userID), windowDays, current.TotalValue)
}

// History returns snapshots taken within the last windowDays, oldest first,
// measured against currentValue. Callers are responsible for ownership checks
// and for computing currentValue without recording a snapshot.
func (s *SnapshotService) History(ctx context.Context, target models.SnapshotTarget, windowDays int, currentValue decimal.Decimal) (*HistoryResult, error) {
	if err := s.validateWindow(windowDays); err != nil {
		return nil, err
	}

	since := s.now().UTC().AddDate(0, 0, -windowDays)
	snapshots, err := s.snapshots.ListSince(ctx, target, since)
	if err != nil {
		return nil, storeError("list snapshots", string(target.Type), target.ID, err)
	}

	result := &HistoryResult{
		TargetType:   target.Type,
		TargetID:     target.ID,
		WindowDays:   windowDays,
		Snapshots:    snapshots,
		CurrentValue: currentValue,
	}
	if len(snapshots) == 0 {
		return result, nil
	}

	initial := snapshots[0].TotalValue
	ret := currentValue.Sub(initial).Round(2)
	pct := decimal.Zero
	if initial.IsPositive() {
		pct = currentValue.Sub(initial).Div(initial).Mul(hundred).Round(2)
	}
	result.InitialValue = &initial
	result.TotalReturn = &ret
	result.TotalReturnPercent = &pct

	return result, nil
}

func (s *SnapshotService) validateWindow(windowDays int) error {
	if windowDays < 1 || windowDays > s.opts.MaxHistoryDays {
		return apperrors.NewInvalidParameterError("days",
			fmt.Sprintf("must be between 1 and %d", s.opts.MaxHistoryDays))
	}
	return nil
}

// Start begins the daily scheduler. CaptureAll fires at RunHourUTC every day.
func (s *SnapshotService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	next := nextRun(s.now().UTC(), s.opts.RunHourUTC)
	logging.FromContext(ctx).Infof("Snapshot scheduler starting. Next snapshot at %s", next.Format(time.RFC3339))

	go s.loop(ctx, next, s.stopChan, s.doneChan)
	return nil
}

func (s *SnapshotService) loop(ctx context.Context, next time.Time, stop, done chan struct{}) {
	defer close(done)
	logger := logging.FromContext(ctx)

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if _, err := s.CaptureAll(ctx); err != nil {
				logger.WithError(err).Error("Daily snapshot capture failed")
			}
			next = nextRun(s.now().UTC(), s.opts.RunHourUTC)
		case <-stop:
			timer.Stop()
			logger.Info("Snapshot scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			if s.stopChan == stop {
				s.running = false
			}
			s.mu.Unlock()
			return
		}
	}
}

// Stop stops the scheduler and waits for an in-flight capture to finish
func (s *SnapshotService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	s.running = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	<-done
	return nil
}

// nextRun returns the first time strictly after now at hour:00 UTC
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
