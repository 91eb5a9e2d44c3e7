package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// ClickHouseSnapshotRepository archives portfolio snapshots in ClickHouse.
// It is a drop-in alternative to SnapshotRepository for large histories.
type ClickHouseSnapshotRepository struct {
	db *ClickHouseDB
}

// NewClickHouseSnapshotRepository creates a new ClickHouse snapshot repository
func NewClickHouseSnapshotRepository(db *ClickHouseDB) *ClickHouseSnapshotRepository {
	return &ClickHouseSnapshotRepository{db: db}
}

// Append stores a new snapshot
func (r *ClickHouseSnapshotRepository) Append(ctx context.Context, s *models.PortfolioSnapshot) error {
	prepareSnapshot(s)

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO portfolio_snapshots`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}

	err = batch.Append(
		s.ID,
		string(s.TargetType),
		s.TargetID,
		s.TotalValue,
		s.TotalCostBasis,
		s.TotalGainLoss,
		s.TotalGainLossPercent,
		uint32(s.HoldingsCount), // #nosec G115 - holdings count is non-negative
		s.SnapshotDate.UTC(),
		s.CreatedAt.UTC(),
	)
	if err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append snapshot: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListSince returns a target's snapshots taken at or after since, oldest first
func (r *ClickHouseSnapshotRepository) ListSince(ctx context.Context, target models.SnapshotTarget, since time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `
		SELECT id, target_type, target_id, total_value, total_cost_basis, total_gain_loss,
			total_gain_loss_percent, holdings_count, snapshot_date, created_at
		FROM portfolio_snapshots
		WHERE target_type = ? AND target_id = ? AND snapshot_date >= ?
		ORDER BY snapshot_date ASC, created_at ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, string(target.Type), target.ID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := []*models.PortfolioSnapshot{}
	for rows.Next() {
		var (
			s          models.PortfolioSnapshot
			targetType string
			count      uint32
		)
		err := rows.Scan(
			&s.ID,
			&targetType,
			&s.TargetID,
			&s.TotalValue,
			&s.TotalCostBasis,
			&s.TotalGainLoss,
			&s.TotalGainLossPercent,
			&count,
			&s.SnapshotDate,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.TargetType = types.SnapshotTarget(targetType)
		s.HoldingsCount = int(count)
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}
