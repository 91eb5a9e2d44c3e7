package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/pricing"
	"github.com/portfolio-aggregator/internal/types"
)

// HoldingService manages manual accounts and their holdings, and lists
// holdings across all of a user's accounts
type HoldingService struct {
	users    UserRepository
	accounts AccountRepository
	holdings HoldingRepository
	oracle   pricing.Oracle
	locks    *AccountLocks
}

// NewHoldingService creates a new holding service
func NewHoldingService(
	users UserRepository,
	accounts AccountRepository,
	holdings HoldingRepository,
	oracle pricing.Oracle,
	locks *AccountLocks,
) *HoldingService {
	if locks == nil {
		locks = NewAccountLocks()
	}
	return &HoldingService{
		users:    users,
		accounts: accounts,
		holdings: holdings,
		oracle:   oracle,
		locks:    locks,
	}
}

// HoldingInput is a manual holding to add
type HoldingInput struct {
	Symbol       string           `json:"symbol"`
	Quantity     decimal.Decimal  `json:"quantity"`
	AvgCost      decimal.Decimal  `json:"avgCost"`
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
}

// HoldingUpdate changes fields of a manual holding; nil fields are kept
type HoldingUpdate struct {
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	AvgCost      *decimal.Decimal `json:"avgCost,omitempty"`
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
}

// UnifiedHolding is a holding annotated with its account
type UnifiedHolding struct {
	*models.Holding
	AccountName string            `json:"accountName"`
	Provider    types.Provider    `json:"provider"`
	AccountType types.AccountType `json:"accountType"`
}

// CreateManualAccount creates an account whose holdings the user maintains
func (s *HoldingService) CreateManualAccount(ctx context.Context, userID, name string) (*models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewInvalidParameterError("name", "must not be empty")
	}
	if len(name) > 255 {
		return nil, apperrors.NewInvalidParameterError("name", "must be at most 255 characters")
	}

	if err := s.users.Ensure(ctx, &models.User{ID: userID, IsActive: true}); err != nil {
		return nil, storeError("ensure user", "user", userID, err)
	}

	account := &models.Account{
		UserID:            userID,
		Provider:          types.ProviderManual,
		AccountType:       types.AccountTypeManual,
		ProviderAccountID: "manual_" + uuid.New().String(),
		Name:              name,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, storeError("create manual account", "account", "", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"account_id": account.ID,
	}).Info("Manual account created")
	return account, nil
}

// AddHolding adds a holding to one of the user's manual accounts. Without an
// explicit current price the oracle quote is used, then the average cost.
func (s *HoldingService) AddHolding(ctx context.Context, userID, accountID string, in HoldingInput) (*models.Holding, error) {
	account, err := s.manualAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	symbol := pricing.NormalizeSymbol(in.Symbol)
	if symbol == "" {
		return nil, apperrors.NewInvalidParameterError("symbol", "must not be empty")
	}
	if err := validateAmounts(&in.Quantity, &in.AvgCost, in.CurrentPrice); err != nil {
		return nil, err
	}

	price := in.AvgCost
	if in.CurrentPrice != nil {
		price = *in.CurrentPrice
	} else if quote, ok := s.quote(ctx, symbol); ok {
		price = quote
	}

	holding := &models.Holding{
		AccountID:    account.ID,
		Symbol:       symbol,
		Quantity:     in.Quantity,
		AvgCost:      in.AvgCost,
		CurrentPrice: price,
	}
	holding.Normalize()

	unlock := s.locks.Lock(account.ID)
	defer unlock()

	if err := s.holdings.Create(ctx, holding); err != nil {
		return nil, storeError("create holding", "holding", "", err)
	}
	return holding, nil
}

// UpdateHolding changes a holding of one of the user's manual accounts
func (s *HoldingService) UpdateHolding(ctx context.Context, userID, holdingID string, in HoldingUpdate) (*models.Holding, error) {
	if err := validateAmounts(in.Quantity, in.AvgCost, in.CurrentPrice); err != nil {
		return nil, err
	}

	holding, unlock, err := s.ownedHolding(ctx, userID, holdingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if in.Quantity != nil {
		holding.Quantity = *in.Quantity
	}
	if in.AvgCost != nil {
		holding.AvgCost = *in.AvgCost
	}
	if in.CurrentPrice != nil {
		holding.CurrentPrice = *in.CurrentPrice
	}
	holding.Normalize()

	if err := s.holdings.Update(ctx, holding); err != nil {
		return nil, storeError("update holding", "holding", holdingID, err)
	}
	return holding, nil
}

// DeleteHolding removes a holding of one of the user's manual accounts
func (s *HoldingService) DeleteHolding(ctx context.Context, userID, holdingID string) error {
	_, unlock, err := s.ownedHolding(ctx, userID, holdingID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.holdings.Delete(ctx, holdingID); err != nil {
		return storeError("delete holding", "holding", holdingID, err)
	}
	return nil
}

// ListAccountHoldings returns the holdings of one of the user's accounts
func (s *HoldingService) ListAccountHoldings(ctx context.Context, userID, accountID string) ([]*models.Holding, error) {
	account, err := s.accounts.GetByIDAndUser(ctx, accountID, userID)
	if err != nil {
		return nil, storeError("get account", "account", accountID, err)
	}
	holdings, err := s.holdings.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, storeError("list holdings", "account", accountID, err)
	}
	return holdings, nil
}

// ListHoldings returns every holding of every account of the user
func (s *HoldingService) ListHoldings(ctx context.Context, userID string) ([]*UnifiedHolding, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("list accounts", "user", userID, err)
	}

	result := []*UnifiedHolding{}
	if len(accounts) == 0 {
		return result, nil
	}

	byID := make(map[string]*models.Account, len(accounts))
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	holdings, err := s.holdings.ListByAccounts(ctx, ids)
	if err != nil {
		return nil, storeError("list holdings", "user", userID, err)
	}
	for _, h := range holdings {
		a := byID[h.AccountID]
		if a == nil {
			continue
		}
		result = append(result, &UnifiedHolding{
			Holding:     h,
			AccountName: a.Name,
			Provider:    a.Provider,
			AccountType: a.AccountType,
		})
	}
	return result, nil
}

// manualAccount loads an owned account and rejects provider-managed ones
func (s *HoldingService) manualAccount(ctx context.Context, userID, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetByIDAndUser(ctx, accountID, userID)
	if err != nil {
		return nil, storeError("get account", "account", accountID, err)
	}
	if account.IsAggregated() {
		return nil, apperrors.NewInvalidParameterError("accountId", "holdings of linked accounts are managed by their provider")
	}
	return account, nil
}

// ownedHolding loads a holding of one of the user's manual accounts and
// returns it with the account lock held
func (s *HoldingService) ownedHolding(ctx context.Context, userID, holdingID string) (*models.Holding, func(), error) {
	holding, err := s.holdings.GetByID(ctx, holdingID)
	if err != nil {
		return nil, nil, storeError("get holding", "holding", holdingID, err)
	}
	if _, err := s.manualAccount(ctx, userID, holding.AccountID); err != nil {
		if apperrors.Is(err, apperrors.CategoryNotFound) {
			return nil, nil, apperrors.NewNotFoundError("holding", holdingID)
		}
		return nil, nil, err
	}

	unlock := s.locks.Lock(holding.AccountID)

	// re-read under the lock
	holding, err = s.holdings.GetByID(ctx, holdingID)
	if err != nil {
		unlock()
		return nil, nil, storeError("get holding", "holding", holdingID, err)
	}
	return holding, unlock, nil
}

func (s *HoldingService) quote(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if s.oracle == nil {
		return decimal.Zero, false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	price, ok, err := s.oracle.GetPrice(ctx, symbol)
	if err != nil {
		logging.FromContext(ctx).WithField("symbol", symbol).WithError(err).Warn("Price lookup failed for new holding")
		return decimal.Zero, false
	}
	return price, ok && price.IsPositive()
}

func validateAmounts(quantity, avgCost, currentPrice *decimal.Decimal) error {
	if quantity != nil && quantity.IsNegative() {
		return apperrors.NewInvalidParameterError("quantity", "must not be negative")
	}
	if avgCost != nil && !avgCost.IsPositive() {
		return apperrors.NewInvalidParameterError("avgCost", "must be greater than 0")
	}
	if currentPrice != nil && currentPrice.IsNegative() {
		return apperrors.NewInvalidParameterError("currentPrice", "must not be negative")
	}
	return nil
}
