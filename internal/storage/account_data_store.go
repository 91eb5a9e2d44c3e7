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

// AccountDataTx is the set of writes a sync performs inside one transaction
type AccountDataTx interface {
	LockAccount(ctx context.Context, accountID string) error
	DeleteHoldings(ctx context.Context, accountID string) error
	InsertHoldings(ctx context.Context, holdings []*models.Holding) error
	DeleteTransactions(ctx context.Context, accountID string) error
	InsertTransactions(ctx context.Context, txs []*models.Transaction) error
	TouchLastSync(ctx context.Context, accountID string, at time.Time) error
}

// AccountDataStore runs account data replacement inside a Postgres transaction
type AccountDataStore struct {
	db *PostgresDB
}

// NewAccountDataStore creates a new account data store
func NewAccountDataStore(db *PostgresDB) *AccountDataStore {
	return &AccountDataStore{db: db}
}

// WithTx runs fn in a transaction. The transaction commits only when fn
// returns nil; an error from fn or a cancelled ctx rolls it back.
func (s *AccountDataStore) WithTx(ctx context.Context, fn func(tx AccountDataTx) error) error {
	return pgx.BeginFunc(ctx, s.db.Pool(), func(tx pgx.Tx) error {
		return fn(&pgAccountDataTx{tx: tx})
	})
}

type pgAccountDataTx struct {
	tx pgx.Tx
}

// LockAccount takes a row lock on the account until the transaction ends.
// Replaces of the same account from other processes wait here instead of
// interleaving their deletes and inserts.
func (t *pgAccountDataTx) LockAccount(ctx context.Context, accountID string) error {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}
	return nil
}

func (t *pgAccountDataTx) DeleteHoldings(ctx context.Context, accountID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM holdings WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete holdings: %w", err)
	}
	return nil
}

func (t *pgAccountDataTx) InsertHoldings(ctx context.Context, holdings []*models.Holding) error {
	if len(holdings) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, h := range holdings {
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		h.CreatedAt = now
		h.UpdatedAt = now
		batch.Queue(insertHoldingSQL,
			h.ID, h.AccountID, h.Symbol, h.Quantity, h.AvgCost, h.CurrentPrice, h.Value, h.CreatedAt, h.UpdatedAt)
	}

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert holdings: %w", err)
	}
	return nil
}

func (t *pgAccountDataTx) DeleteTransactions(ctx context.Context, accountID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM transactions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	return nil
}

func (t *pgAccountDataTx) InsertTransactions(ctx context.Context, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		tx.CreatedAt = now
		batch.Queue(`
			INSERT INTO transactions (
				id, account_id, symbol, transaction_type, quantity, price,
				amount, transaction_date, description, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			tx.ID,
			tx.AccountID,
			tx.Symbol,
			tx.Type,
			nullDecimal(tx.Quantity),
			nullDecimal(tx.Price),
			tx.Amount,
			tx.Date,
			tx.Description,
			tx.CreatedAt,
		)
	}

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}
	return nil
}

func (t *pgAccountDataTx) TouchLastSync(ctx context.Context, accountID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET last_sync = $2, updated_at = $2 WHERE id = $1`, accountID, at)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}
