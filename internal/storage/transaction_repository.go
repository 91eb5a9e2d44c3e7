package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// TransactionFilters holds optional transaction query filters
type TransactionFilters struct {
	AccountIDs []string
	Symbol     string // case-insensitive substring
	Type       *types.TransactionType
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
}

// TransactionRepository handles transaction reads
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// EscapeLike escapes LIKE metacharacters so the input matches literally
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildWhere renders the WHERE clause and its arguments for filters
func buildWhere(filters *TransactionFilters) (string, []any) {
	clauses := []string{"account_id = ANY($1)"}
	args := []any{filters.AccountIDs}

	if filters.Symbol != "" {
		args = append(args, "%"+EscapeLike(filters.Symbol)+"%")
		clauses = append(clauses, fmt.Sprintf(`symbol ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if filters.Type != nil {
		args = append(args, string(*filters.Type))
		clauses = append(clauses, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	if filters.DateFrom != nil {
		args = append(args, *filters.DateFrom)
		clauses = append(clauses, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if filters.DateTo != nil {
		args = append(args, *filters.DateTo)
		clauses = append(clauses, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

// Count returns the number of transactions matching filters
func (r *TransactionRepository) Count(ctx context.Context, filters *TransactionFilters) (int64, error) {
	if len(filters.AccountIDs) == 0 {
		return 0, nil
	}

	where, args := buildWhere(filters)
	var total int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return total, nil
}

// Find returns one page of transactions, newest first with id as tiebreaker
func (r *TransactionRepository) Find(ctx context.Context, filters *TransactionFilters) ([]*models.Transaction, error) {
	if len(filters.AccountIDs) == 0 {
		return []*models.Transaction{}, nil
	}

	where, args := buildWhere(filters)
	args = append(args, filters.Limit, filters.Offset)
	query := fmt.Sprintf(`
		SELECT id, account_id, symbol, transaction_type, quantity, price,
			amount, transaction_date, description, created_at
		FROM transactions
		WHERE %s
		ORDER BY transaction_date DESC, id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []*models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var quantity, price decimal.NullDecimal
		err := rows.Scan(
			&tx.ID,
			&tx.AccountID,
			&tx.Symbol,
			&tx.Type,
			&quantity,
			&price,
			&tx.Amount,
			&tx.Date,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Quantity = decimalPtr(quantity)
		tx.Price = decimalPtr(price)
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
