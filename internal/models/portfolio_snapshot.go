package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// PortfolioSnapshot is an append-only point-in-time valuation of an account or a user
type PortfolioSnapshot struct {
	ID                   string               `json:"id" db:"id" ch:"id"`
	TargetType           types.SnapshotTarget `json:"targetType" db:"target_type" ch:"target_type"`
	TargetID             string               `json:"targetId" db:"target_id" ch:"target_id"`
	TotalValue           decimal.Decimal      `json:"totalValue" db:"total_value" ch:"total_value"`
	TotalCostBasis       decimal.Decimal      `json:"totalCostBasis" db:"total_cost_basis" ch:"total_cost_basis"`
	TotalGainLoss        decimal.Decimal      `json:"totalGainLoss" db:"total_gain_loss" ch:"total_gain_loss"`
	TotalGainLossPercent decimal.Decimal      `json:"totalGainLossPercent" db:"total_gain_loss_percent" ch:"total_gain_loss_percent"`
	HoldingsCount        int                  `json:"holdingsCount" db:"holdings_count" ch:"holdings_count"`
	SnapshotDate         time.Time            `json:"snapshotDate" db:"snapshot_date" ch:"snapshot_date"`
	CreatedAt            time.Time            `json:"createdAt" db:"created_at" ch:"created_at"`
}

// SnapshotTarget identifies what a snapshot or history request is about
type SnapshotTarget struct {
	Type types.SnapshotTarget
	ID   string
}

// AccountTarget returns the snapshot target for an account
func AccountTarget(accountID string) SnapshotTarget {
	return SnapshotTarget{Type: types.SnapshotTargetAccount, ID: accountID}
}

// UserTarget returns the snapshot target for a user's whole portfolio
func UserTarget(userID string) SnapshotTarget {
	return SnapshotTarget{Type: types.SnapshotTargetUser, ID: userID}
}
