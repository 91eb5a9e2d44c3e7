package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-aggregator/internal/models"
)

// SnapshotRepository stores portfolio snapshots in Postgres. Snapshots are
// append-only: there is no update or delete path.
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Append stores a new snapshot
func (r *SnapshotRepository) Append(ctx context.Context, s *models.PortfolioSnapshot) error {
	prepareSnapshot(s)

	query := `
		INSERT INTO portfolio_snapshots (
			id, target_type, target_id, total_value, total_cost_basis, total_gain_loss,
			total_gain_loss_percent, holdings_count, snapshot_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		s.ID,
		s.TargetType,
		s.TargetID,
		s.TotalValue,
		s.TotalCostBasis,
		s.TotalGainLoss,
		s.TotalGainLossPercent,
		s.HoldingsCount,
		s.SnapshotDate,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListSince returns a target's snapshots taken at or after since, oldest first
func (r *SnapshotRepository) ListSince(ctx context.Context, target models.SnapshotTarget, since time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, target_type, target_id, total_value, total_cost_basis, total_gain_loss,
			total_gain_loss_percent, holdings_count, snapshot_date, created_at
		FROM portfolio_snapshots
		WHERE target_type = $1 AND target_id = $2 AND snapshot_date >= $3
		ORDER BY snapshot_date ASC, created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, target.Type, target.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*models.PortfolioSnapshot{}
	for rows.Next() {
		var s models.PortfolioSnapshot
		err := rows.Scan(
			&s.ID,
			&s.TargetType,
			&s.TargetID,
			&s.TotalValue,
			&s.TotalCostBasis,
			&s.TotalGainLoss,
			&s.TotalGainLossPercent,
			&s.HoldingsCount,
			&s.SnapshotDate,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

func prepareSnapshot(s *models.PortfolioSnapshot) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.SnapshotDate.IsZero() {
		s.SnapshotDate = s.CreatedAt
	}
}
