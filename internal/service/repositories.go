package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/storage"
)

// Repository interfaces for dependency injection

// UserRepository interface for user data operations
type UserRepository interface {
	Ensure(ctx context.Context, user *models.User) error
	ListActive(ctx context.Context) ([]*models.User, error)
}

// AccountRepository interface for account data operations
type AccountRepository interface {
	Upsert(ctx context.Context, account *models.Account) error
	GetByIDAndUser(ctx context.Context, id, userID string) (*models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Account, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.Account, error)
	DeleteByIDAndUser(ctx context.Context, id, userID string) error
}

// HoldingRepository interface for holding data operations
type HoldingRepository interface {
	ListByAccount(ctx context.Context, accountID string) ([]*models.Holding, error)
	ListByAccounts(ctx context.Context, accountIDs []string) ([]*models.Holding, error)
	GetByID(ctx context.Context, id string) (*models.Holding, error)
	Create(ctx context.Context, h *models.Holding) error
	Update(ctx context.Context, h *models.Holding) error
	Delete(ctx context.Context, id string) error
}

// TransactionRepository interface for transaction queries
type TransactionRepository interface {
	Count(ctx context.Context, filters *storage.TransactionFilters) (int64, error)
	Find(ctx context.Context, filters *storage.TransactionFilters) ([]*models.Transaction, error)
}

// SnapshotRepository interface for append-only snapshot storage
type SnapshotRepository interface {
	Append(ctx context.Context, s *models.PortfolioSnapshot) error
	ListSince(ctx context.Context, target models.SnapshotTarget, since time.Time) ([]*models.PortfolioSnapshot, error)
}

// AccountDataStore runs fn inside one store transaction. A non-nil return
// from fn, or a cancelled ctx, rolls every write back.
type AccountDataStore interface {
	WithTx(ctx context.Context, fn func(tx storage.AccountDataTx) error) error
}

// RunLock is a best-effort distributed lock used to de-duplicate batch runs
type RunLock interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) (bool, error)
}

// storeError maps repository errors onto the service error taxonomy
func storeError(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	return apperrors.NewDatabaseError(op, err)
}
