package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portfolio-aggregator/internal/aggregator"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/retry"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

const redacted = "[REDACTED]"

// SyncOptions tunes the sync coordinator
type SyncOptions struct {
	Concurrency       int           // accounts synced in parallel by SyncUser
	Timeout           time.Duration // per-account deadline, 0 disables
	RetryAttempts     int
	RetryInitialDelay time.Duration
	SlowThreshold     time.Duration // syncs slower than this are counted as slow
	Now               func() time.Time
}

// SyncService links provider accounts and refreshes their holdings and
// transactions. Each refresh replaces the account's data atomically.
type SyncService struct {
	registry    *aggregator.Registry
	users       UserRepository
	accounts    AccountRepository
	store       AccountDataStore
	locks       *AccountLocks
	retryConfig *retry.RetryConfig
	concurrency int
	timeout     time.Duration
	monitor     *SyncMonitor
	now         func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	registry *aggregator.Registry,
	users UserRepository,
	accounts AccountRepository,
	store AccountDataStore,
	locks *AccountLocks,
	opts SyncOptions,
) *SyncService {
	retryConfig := retry.DefaultRetryConfig()
	if opts.RetryAttempts > 0 {
		retryConfig.MaxAttempts = opts.RetryAttempts
	}
	if opts.RetryInitialDelay > 0 {
		retryConfig.InitialDelay = opts.RetryInitialDelay
	}
	retryConfig.ShouldRetry = retryableProviderError

	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locks == nil {
		locks = NewAccountLocks()
	}

	return &SyncService{
		registry:    registry,
		users:       users,
		accounts:    accounts,
		store:       store,
		locks:       locks,
		retryConfig: retryConfig,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		monitor:     NewSyncMonitor(opts.SlowThreshold),
		now:         opts.Now,
	}
}

func retryableProviderError(err error) bool {
	switch {
	case errors.Is(err, aggregator.ErrMalformedToken),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return apperrors.IsRetryable(catErr)
	}
	return true
}

// LinkResult is returned after a provider account has been linked
type LinkResult struct {
	AccountID string         `json:"accountId"`
	Provider  types.Provider `json:"provider"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
}

// SyncResult describes one completed account refresh
type SyncResult struct {
	AccountID    string    `json:"accountId"`
	Holdings     int       `json:"holdings"`
	Transactions int       `json:"transactions"`
	SyncedAt     time.Time `json:"syncedAt"`
}

// AccountSyncStatus is one account's outcome within SyncUser
type AccountSyncStatus struct {
	AccountID string      `json:"accountId"`
	Status    string      `json:"status"` // synced or failed
	Error     string      `json:"error,omitempty"`
	Result    *SyncResult `json:"result,omitempty"`
}

// UserSyncResult aggregates the outcome of SyncUser
type UserSyncResult struct {
	UserID    string               `json:"userId"`
	Synced    int                  `json:"synced"`
	Failed    int                  `json:"failed"`
	Accounts  []*AccountSyncStatus `json:"accounts"`
	StartedAt time.Time            `json:"startedAt"`
}

// EnsureUser registers a user id issued by the identity layer
func (s *SyncService) EnsureUser(ctx context.Context, userID string) error {
	err := s.users.Ensure(ctx, &models.User{ID: userID, IsActive: true})
	return storeError("ensure user", "user", userID, err)
}

// LinkAccount exchanges a public token and records the provider account.
// The provider is resolved before any aggregator call, so unsupported
// providers never reach a provider or create a row. Relinking the same
// provider account refreshes its credential and keeps its id.
func (s *SyncService) LinkAccount(ctx context.Context, userID, provider, publicToken string) (*LinkResult, error) {
	p := types.ParseProvider(provider)
	agg, err := s.registry.Resolve(p)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":  userID,
		"provider": p,
	})

	credential, err := agg.ExchangeToken(ctx, publicToken)
	if err != nil {
		return nil, linkError(p, err, publicToken)
	}

	var info *aggregator.AccountInfo
	err = retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		var callErr error
		info, callErr = agg.GetAccountInfo(ctx, credential)
		return callErr
	})
	if err != nil {
		return nil, linkError(p, err, publicToken, credential)
	}

	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	account := &models.Account{
		UserID:            userID,
		Provider:          p,
		AccountType:       p.AccountType(),
		ProviderAccountID: info.ProviderAccountID,
		Name:              info.Name,
		AccessToken:       credential,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, storeError("link account", "account", info.ProviderAccountID, err)
	}

	logger.WithField("account_id", account.ID).Info("Account linked")

	return &LinkResult{
		AccountID: account.ID,
		Provider:  p,
		Name:      account.Name,
		Status:    types.LinkStatusLinked,
	}, nil
}

// linkError builds the client-facing link failure with secrets scrubbed
func linkError(provider types.Provider, err error, secrets ...string) error {
	if errors.Is(err, aggregator.ErrMalformedToken) {
		return apperrors.NewInvalidParameterError("publicToken", "malformed token")
	}

	msg := err.Error()
	for _, secret := range secrets {
		if strings.TrimSpace(secret) != "" {
			msg = strings.ReplaceAll(msg, secret, redacted)
		}
	}

	catErr := apperrors.NewProviderError(string(provider), errors.New(msg))
	catErr.Message = "failed to link account: " + msg
	return catErr
}

// ListAccounts returns the user's accounts
func (s *SyncService) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("list accounts", "user", userID, err)
	}
	return accounts, nil
}

// GetAccount returns one of the user's accounts. Foreign accounts are not found.
func (s *SyncService) GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetByIDAndUser(ctx, accountID, userID)
	if err != nil {
		return nil, storeError("get account", "account", accountID, err)
	}
	return account, nil
}

// DeleteAccount removes an account with its holdings and transactions
func (s *SyncService) DeleteAccount(ctx context.Context, userID, accountID string) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	if err := s.accounts.DeleteByIDAndUser(ctx, accountID, userID); err != nil {
		return storeError("delete account", "account", accountID, err)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"account_id": accountID,
	}).Info("Account deleted")
	return nil
}

// SyncAccount refreshes one of the user's accounts
func (s *SyncService) SyncAccount(ctx context.Context, userID, accountID string) (*SyncResult, error) {
	account, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, account)
}

// Sync fetches the account's holdings and transactions from its provider and
// replaces the stored sets in one transaction. On any failure the previous
// data, including last_sync, is left as it was.
func (s *SyncService) Sync(ctx context.Context, account *models.Account) (result *SyncResult, err error) {
	if !account.IsAggregated() {
		return nil, apperrors.NewNotAggregatedError(account.ID)
	}
	agg, err := s.registry.Resolve(account.Provider)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(account.ID)
	defer unlock()

	start := time.Now()
	defer func() { s.monitor.Record(time.Since(start), err) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account_id": account.ID,
		"provider":   account.Provider,
	})

	holdings, txs, err := s.fetch(ctx, agg, account)
	if err != nil {
		logger.WithError(err).Warn("Account sync failed while fetching provider data")
		return nil, err
	}

	syncedAt := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx storage.AccountDataTx) error {
		if err := tx.LockAccount(ctx, account.ID); err != nil {
			return err
		}
		if err := tx.DeleteHoldings(ctx, account.ID); err != nil {
			return err
		}
		if err := tx.InsertHoldings(ctx, holdings); err != nil {
			return err
		}
		if err := tx.DeleteTransactions(ctx, account.ID); err != nil {
			return err
		}
		if err := tx.InsertTransactions(ctx, txs); err != nil {
			return err
		}
		return tx.TouchLastSync(ctx, account.ID, syncedAt)
	})
	if err != nil {
		logger.WithError(err).Error("Account sync rolled back")
		return nil, storeError("replace account data", "account", account.ID, err)
	}

	account.LastSync = &syncedAt
	logger.WithFields(map[string]interface{}{
		"holdings":     len(holdings),
		"transactions": len(txs),
	}).Info("Account synced")

	return &SyncResult{
		AccountID:    account.ID,
		Holdings:     len(holdings),
		Transactions: len(txs),
		SyncedAt:     syncedAt,
	}, nil
}

// Stats returns sync latency and failure statistics
func (s *SyncService) Stats() *SyncStats {
	return s.monitor.Stats()
}

// fetch reads and normalizes provider data. Nothing is written here.
func (s *SyncService) fetch(ctx context.Context, agg aggregator.Aggregator, account *models.Account) ([]*models.Holding, []*models.Transaction, error) {
	var (
		rawHoldings []*aggregator.HoldingData
		rawTxs      []*aggregator.TransactionData
	)

	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		var callErr error
		rawHoldings, callErr = agg.GetHoldings(ctx, account.AccessToken)
		return callErr
	})
	if err != nil {
		return nil, nil, apperrors.NewProviderError(string(account.Provider), err)
	}

	err = retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		var callErr error
		rawTxs, callErr = agg.GetTransactions(ctx, account.AccessToken)
		return callErr
	})
	if err != nil {
		return nil, nil, apperrors.NewProviderError(string(account.Provider), err)
	}

	holdings := make([]*models.Holding, 0, len(rawHoldings))
	for _, h := range rawHoldings {
		holding := &models.Holding{
			AccountID:    account.ID,
			Symbol:       h.Symbol,
			Quantity:     h.Quantity,
			AvgCost:      h.AvgCost,
			CurrentPrice: h.CurrentPrice,
		}
		holding.Normalize()
		if holding.Symbol == "" || holding.Quantity.IsNegative() {
			return nil, nil, apperrors.NewProviderError(string(account.Provider),
				fmt.Errorf("invalid holding %q with quantity %s", h.Symbol, h.Quantity))
		}
		holdings = append(holdings, holding)
	}

	txs := make([]*models.Transaction, 0, len(rawTxs))
	for _, t := range rawTxs {
		tx := &models.Transaction{
			AccountID:   account.ID,
			Symbol:      t.Symbol,
			Type:        t.Type,
			Quantity:    t.Quantity,
			Price:       t.Price,
			Amount:      t.Amount,
			Date:        t.Date,
			Description: t.Description,
		}
		tx.Normalize()
		if err := tx.Validate(); err != nil {
			return nil, nil, apperrors.NewProviderError(string(account.Provider), err)
		}
		txs = append(txs, tx)
	}

	return holdings, txs, nil
}

// SyncUser refreshes every linked account of the user. Individual failures
// are reported per account and never stop the others.
func (s *SyncService) SyncUser(ctx context.Context, userID string) (*UserSyncResult, error) {
	accounts, err := s.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &UserSyncResult{
		UserID:    userID,
		Accounts:  []*AccountSyncStatus{},
		StartedAt: s.now().UTC(),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, account := range accounts {
		if !account.IsAggregated() {
			continue
		}
		g.Go(func() error {
			status := &AccountSyncStatus{AccountID: account.ID, Status: "synced"}
			res, err := s.Sync(ctx, account)
			if err != nil {
				status.Status = "failed"
				status.Error = err.Error()
			} else {
				status.Result = res
			}

			mu.Lock()
			defer mu.Unlock()
			result.Accounts = append(result.Accounts, status)
			if err != nil {
				result.Failed++
			} else {
				result.Synced++
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// RefreshStale re-syncs aggregated accounts whose last sync is older than
// staleAfter, at most limit per call. It returns how many accounts succeeded.
func (s *SyncService) RefreshStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	accounts, err := s.accounts.ListStale(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, storeError("list stale accounts", "account", "", err)
	}

	var (
		mu     sync.Mutex
		synced int
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, account := range accounts {
		g.Go(func() error {
			if _, err := s.Sync(ctx, account); err != nil {
				return nil
			}
			mu.Lock()
			synced++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return synced, ctx.Err()
}
