package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/pricing"
	"github.com/portfolio-aggregator/internal/types"
)

// PortfolioService values accounts and whole portfolios. Compute* methods
// are read-only; Summarize* methods also append a snapshot of the result.
type PortfolioService struct {
	accounts  AccountRepository
	holdings  HoldingRepository
	snapshots SnapshotRepository
	oracle    pricing.Oracle
	now       func() time.Time
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(
	accounts AccountRepository,
	holdings HoldingRepository,
	snapshots SnapshotRepository,
	oracle pricing.Oracle,
) *PortfolioService {
	return &PortfolioService{
		accounts:  accounts,
		holdings:  holdings,
		snapshots: snapshots,
		oracle:    oracle,
		now:       time.Now,
	}
}

// AccountSummary is the valuation of one account
type AccountSummary struct {
	AccountID   string            `json:"accountId"`
	AccountName string            `json:"accountName"`
	Provider    types.Provider    `json:"provider"`
	AccountType types.AccountType `json:"accountType"`
	LastSync    *time.Time        `json:"lastSync,omitempty"`
	Summary
}

// AccountTotals is one account's share of a user summary
type AccountTotals struct {
	AccountID     string          `json:"accountId"`
	Name          string          `json:"name"`
	Provider      types.Provider  `json:"provider"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	HoldingsCount int             `json:"holdingsCount"`
}

// UserSummary is the valuation of all of a user's accounts
type UserSummary struct {
	UserID   string           `json:"userId"`
	Accounts []*AccountTotals `json:"accounts"`
	Summary
}

// ComputeAccount values one of the user's accounts without side effects
func (s *PortfolioService) ComputeAccount(ctx context.Context, userID, accountID string) (*AccountSummary, error) {
	account, err := s.accounts.GetByIDAndUser(ctx, accountID, userID)
	if err != nil {
		return nil, storeError("get account", "account", accountID, err)
	}

	holdings, err := s.holdings.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, storeError("list holdings", "account", accountID, err)
	}

	return &AccountSummary{
		AccountID:   account.ID,
		AccountName: account.Name,
		Provider:    account.Provider,
		AccountType: account.AccountType,
		LastSync:    account.LastSync,
		Summary:     *Summarize(ctx, holdings, s.oracle),
	}, nil
}

// ComputeUser values every account of the user without side effects
func (s *PortfolioService) ComputeUser(ctx context.Context, userID string) (*UserSummary, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("list accounts", "user", userID, err)
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}

	var holdings []*models.Holding
	if len(ids) > 0 {
		holdings, err = s.holdings.ListByAccounts(ctx, ids)
		if err != nil {
			return nil, storeError("list holdings", "user", userID, err)
		}
	}

	summary := Summarize(ctx, holdings, s.oracle)

	byAccount := make(map[string]*AccountTotals, len(accounts))
	result := &UserSummary{
		UserID:   userID,
		Accounts: make([]*AccountTotals, 0, len(accounts)),
		Summary:  *summary,
	}
	for _, a := range accounts {
		totals := &AccountTotals{AccountID: a.ID, Name: a.Name, Provider: a.Provider, TotalValue: decimal.Zero}
		byAccount[a.ID] = totals
		result.Accounts = append(result.Accounts, totals)
	}
	for _, h := range summary.Holdings {
		if totals, ok := byAccount[h.AccountID]; ok {
			totals.TotalValue = totals.TotalValue.Add(h.MarketValue)
			totals.HoldingsCount++
		}
	}

	return result, nil
}

// SummarizeAccount values the account and records a snapshot of the result
func (s *PortfolioService) SummarizeAccount(ctx context.Context, userID, accountID string) (*AccountSummary, error) {
	summary, err := s.ComputeAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if _, err := s.record(ctx, models.AccountTarget(summary.AccountID), &summary.Summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// SummarizeUser values the whole portfolio and records a snapshot of the result
func (s *PortfolioService) SummarizeUser(ctx context.Context, userID string) (*UserSummary, error) {
	summary, _, err := s.summarizeUser(ctx, userID)
	return summary, err
}

func (s *PortfolioService) summarizeUser(ctx context.Context, userID string) (*UserSummary, *models.PortfolioSnapshot, error) {
	summary, err := s.ComputeUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := s.record(ctx, models.UserTarget(userID), &summary.Summary)
	if err != nil {
		return nil, nil, err
	}
	return summary, snapshot, nil
}

// record appends a snapshot built from the summary's totals
func (s *PortfolioService) record(ctx context.Context, target models.SnapshotTarget, summary *Summary) (*models.PortfolioSnapshot, error) {
	now := s.now().UTC()
	snapshot := &models.PortfolioSnapshot{
		TargetType:           target.Type,
		TargetID:             target.ID,
		TotalValue:           summary.TotalValue,
		TotalCostBasis:       summary.TotalCostBasis,
		TotalGainLoss:        summary.TotalGainLoss,
		TotalGainLossPercent: summary.TotalGainLossPercent,
		HoldingsCount:        summary.HoldingsCount,
		SnapshotDate:         now,
		CreatedAt:            now,
	}
	if err := s.snapshots.Append(ctx, snapshot); err != nil {
		return nil, storeError("append snapshot", string(target.Type), target.ID, err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"target_type": target.Type,
		"target_id":   target.ID,
		"total_value": snapshot.TotalValue.String(),
	}).Debug("Snapshot recorded")

	return snapshot, nil
}
