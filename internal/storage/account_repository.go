package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-aggregator/internal/models"
)

// AccountRepository handles account persistence
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, user_id, provider, account_type, provider_account_id, name,
	access_token, last_sync, created_at, updated_at
`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Provider,
		&a.AccountType,
		&a.ProviderAccountID,
		&a.Name,
		&a.AccessToken,
		&a.LastSync,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert creates the account, or refreshes the credential and name when the
// user already linked the same provider account. The stored ID is written
// back to account.ID.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			id, user_id, provider, account_type, provider_account_id, name,
			access_token, last_sync, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, provider, provider_account_id) DO UPDATE SET
			name = EXCLUDED.name,
			access_token = EXCLUDED.access_token,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, last_sync
	`

	err := r.db.Pool().QueryRow(ctx, query,
		account.ID,
		account.UserID,
		account.Provider,
		account.AccountType,
		account.ProviderAccountID,
		account.Name,
		account.AccessToken,
		account.LastSync,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID, &account.CreatedAt, &account.LastSync)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	return nil
}

// GetByIDAndUser retrieves an account owned by userID. Foreign accounts are
// reported as not found.
func (r *AccountRepository) GetByIDAndUser(ctx context.Context, id, userID string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND user_id = $2`

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListByUser returns the user's accounts ordered by creation time
func (r *AccountRepository) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, userID)
}

// ListStale returns aggregated accounts never synced or last synced before olderThan
func (r *AccountRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE provider <> 'manual'
			AND (last_sync IS NULL OR last_sync < $1)
		ORDER BY last_sync NULLS FIRST, id
		LIMIT $2
	`
	return r.list(ctx, query, olderThan, limit)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*models.Account, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// DeleteByIDAndUser removes an account and, by cascade, its holdings and transactions
func (r *AccountRepository) DeleteByIDAndUser(ctx context.Context, id, userID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}
