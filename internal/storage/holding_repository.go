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

// HoldingRepository handles holding reads and manual edits. Sync replaces
// holdings through AccountDataStore instead.
type HoldingRepository struct {
	db *PostgresDB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *PostgresDB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

const holdingColumns = `
	id, account_id, symbol, quantity, avg_cost, current_price, value, created_at, updated_at
`

func scanHolding(row pgx.Row) (*models.Holding, error) {
	var h models.Holding
	err := row.Scan(
		&h.ID,
		&h.AccountID,
		&h.Symbol,
		&h.Quantity,
		&h.AvgCost,
		&h.CurrentPrice,
		&h.Value,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListByAccount returns an account's holdings ordered by symbol. The read is a
// single statement, so it observes either the pre-sync or post-sync set.
func (r *HoldingRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE account_id = $1 ORDER BY symbol, id`
	return r.list(ctx, query, accountID)
}

// ListByAccounts returns holdings across several accounts ordered by account then symbol
func (r *HoldingRepository) ListByAccounts(ctx context.Context, accountIDs []string) ([]*models.Holding, error) {
	if len(accountIDs) == 0 {
		return []*models.Holding{}, nil
	}
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE account_id = ANY($1) ORDER BY account_id, symbol, id`
	return r.list(ctx, query, accountIDs)
}

func (r *HoldingRepository) list(ctx context.Context, query string, args ...any) ([]*models.Holding, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	holdings := []*models.Holding{}
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// GetByID retrieves a holding by ID
func (r *HoldingRepository) GetByID(ctx context.Context, id string) (*models.Holding, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}

	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE id = $1`
	h, err := scanHolding(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

// Create inserts a single holding
func (r *HoldingRepository) Create(ctx context.Context, h *models.Holding) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	_, err := r.db.Pool().Exec(ctx, insertHoldingSQL,
		h.ID, h.AccountID, h.Symbol, h.Quantity, h.AvgCost, h.CurrentPrice, h.Value, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create holding: %w", err)
	}
	return nil
}

// Update overwrites quantity, cost and price of a holding
func (r *HoldingRepository) Update(ctx context.Context, h *models.Holding) error {
	h.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE holdings
		SET quantity = $2, avg_cost = $3, current_price = $4, value = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, h.ID, h.Quantity, h.AvgCost, h.CurrentPrice, h.Value, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s: %w", h.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a holding
func (r *HoldingRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM holdings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	return nil
}

const insertHoldingSQL = `
	INSERT INTO holdings (
		id, account_id, symbol, quantity, avg_cost, current_price, value, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
