package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/aggregator"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

// memStore is an in-memory stand-in for every repository the services use.
// Writes made through WithTx are buffered and applied only on commit.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	accounts  map[string]*models.Account
	holdings  map[string]*models.Holding
	txs       map[string][]*models.Transaction
	snapshots []*models.PortfolioSnapshot

	// fault injection
	failAfterDelete error
	failSnapshots   error
	failUsers       map[string]error
	failListActive  error

	txBegun    int
	rowLocks   int
	countCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*models.User),
		accounts:  make(map[string]*models.Account),
		holdings:  make(map[string]*models.Holding),
		txs:       make(map[string][]*models.Transaction),
		failUsers: make(map[string]error),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

// UserRepository

func (m *memStore) Ensure(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		u := *user
		u.CreatedAt = time.Now().UTC()
		m.users[user.ID] = &u
	}
	return nil
}

func (m *memStore) ListActive(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failListActive; err != nil {
		m.failListActive = nil
		return nil, err
	}
	users := []*models.User{}
	for _, u := range m.users {
		if u.IsActive {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// AccountRepository

func (m *memStore) Upsert(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.UserID == account.UserID && a.Provider == account.Provider && a.ProviderAccountID == account.ProviderAccountID {
			a.Name = account.Name
			a.AccessToken = account.AccessToken
			a.UpdatedAt = time.Now().UTC()
			account.ID = a.ID
			account.CreatedAt = a.CreatedAt
			account.LastSync = a.LastSync
			return nil
		}
	}
	account.ID = uuid.New().String()
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	a := *account
	m.accounts[a.ID] = &a
	return nil
}

func (m *memStore) GetByIDAndUser(ctx context.Context, id, userID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.UserID != userID {
		return nil, notFound("account", id)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUsers[userID]; err != nil {
		return nil, err
	}
	accounts := []*models.Account{}
	for _, a := range m.accounts {
		if a.UserID == userID {
			cp := *a
			accounts = append(accounts, &cp)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (m *memStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := []*models.Account{}
	for _, a := range m.accounts {
		if a.IsAggregated() && (a.LastSync == nil || a.LastSync.Before(olderThan)) {
			cp := *a
			accounts = append(accounts, &cp)
		}
	}
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

func (m *memStore) DeleteByIDAndUser(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.UserID != userID {
		return notFound("account", id)
	}
	delete(m.accounts, id)
	for hid, h := range m.holdings {
		if h.AccountID == id {
			delete(m.holdings, hid)
		}
	}
	delete(m.txs, id)
	return nil
}

// HoldingRepository

func (m *memStore) ListByAccount(ctx context.Context, accountID string) ([]*models.Holding, error) {
	return m.ListByAccounts(ctx, []string{accountID})
}

func (m *memStore) ListByAccounts(ctx context.Context, accountIDs []string) ([]*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}
	holdings := []*models.Holding{}
	for _, h := range m.holdings {
		if wanted[h.AccountID] {
			cp := *h
			holdings = append(holdings, &cp)
		}
	}
	sort.Slice(holdings, func(i, j int) bool {
		a, b := holdings[i], holdings[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.ID < b.ID
	})
	return holdings, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[id]
	if !ok {
		return nil, notFound("holding", id)
	}
	cp := *h
	return &cp, nil
}

func (m *memStore) Create(ctx context.Context, h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	cp := *h
	m.holdings[h.ID] = &cp
	return nil
}

func (m *memStore) Update(ctx context.Context, h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[h.ID]; !ok {
		return notFound("holding", h.ID)
	}
	cp := *h
	m.holdings[h.ID] = &cp
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holdings[id]; !ok {
		return notFound("holding", id)
	}
	delete(m.holdings, id)
	return nil
}

// TransactionRepository

func (m *memStore) matching(filters *storage.TransactionFilters) []*models.Transaction {
	var out []*models.Transaction
	for _, id := range filters.AccountIDs {
		for _, t := range m.txs[id] {
			if filters.Symbol != "" && (t.Symbol == nil || !strings.Contains(strings.ToLower(*t.Symbol), strings.ToLower(filters.Symbol))) {
				continue
			}
			if filters.Type != nil && t.Type != *filters.Type {
				continue
			}
			if filters.DateFrom != nil && t.Date.Before(*filters.DateFrom) {
				continue
			}
			if filters.DateTo != nil && t.Date.After(*filters.DateTo) {
				continue
			}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) Count(ctx context.Context, filters *storage.TransactionFilters) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	return int64(len(m.matching(filters))), nil
}

func (m *memStore) Find(ctx context.Context, filters *storage.TransactionFilters) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(filters)
	start := min(filters.Offset, len(all))
	end := min(start+filters.Limit, len(all))
	return append([]*models.Transaction{}, all[start:end]...), nil
}

// SnapshotRepository

func (m *memStore) Append(ctx context.Context, s *models.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSnapshots != nil {
		return m.failSnapshots
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.SnapshotDate.IsZero() {
		s.SnapshotDate = s.CreatedAt
	}
	cp := *s
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

func (m *memStore) ListSince(ctx context.Context, target models.SnapshotTarget, since time.Time) ([]*models.PortfolioSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.PortfolioSnapshot{}
	for _, s := range m.snapshots {
		if s.TargetType == target.Type && s.TargetID == target.ID && !s.SnapshotDate.Before(since) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) snapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func (m *memStore) accountByID(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp
	}
	return nil
}

// AccountDataStore

func (m *memStore) WithTx(ctx context.Context, fn func(tx storage.AccountDataTx) error) error {
	m.mu.Lock()
	m.txBegun++
	tx := &memTx{
		store:          m,
		deletedH:       make(map[string]bool),
		deletedT:       make(map[string]bool),
		locked:         make(map[string]bool),
		touched:        make(map[string]time.Time),
		faultOnDeleted: m.failAfterDelete,
	}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range tx.touched {
		if _, ok := m.accounts[id]; !ok {
			return notFound("account", id)
		}
	}
	for hid, h := range m.holdings {
		if tx.deletedH[h.AccountID] {
			delete(m.holdings, hid)
		}
	}
	for _, h := range tx.newH {
		m.holdings[h.ID] = h
	}
	for id := range tx.deletedT {
		delete(m.txs, id)
	}
	for _, t := range tx.newT {
		m.txs[t.AccountID] = append(m.txs[t.AccountID], t)
	}
	for id, at := range tx.touched {
		m.accounts[id].LastSync = &at
	}
	return nil
}

type memTx struct {
	store          *memStore
	deletedH       map[string]bool
	deletedT       map[string]bool
	newH           []*models.Holding
	newT           []*models.Transaction
	locked         map[string]bool
	touched        map[string]time.Time
	faultOnDeleted error
}

var errAccountNotLocked = errors.New("account row not locked")

func (t *memTx) LockAccount(ctx context.Context, accountID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.accounts[accountID]; !ok {
		return notFound("account", accountID)
	}
	t.store.rowLocks++
	t.locked[accountID] = true
	return nil
}

func (t *memTx) DeleteHoldings(ctx context.Context, accountID string) error {
	if !t.locked[accountID] {
		return errAccountNotLocked
	}
	t.deletedH[accountID] = true
	if t.faultOnDeleted != nil {
		return t.faultOnDeleted
	}
	return nil
}

func (t *memTx) InsertHoldings(ctx context.Context, holdings []*models.Holding) error {
	for _, h := range holdings {
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		cp := *h
		t.newH = append(t.newH, &cp)
	}
	return nil
}

func (t *memTx) DeleteTransactions(ctx context.Context, accountID string) error {
	if !t.locked[accountID] {
		return errAccountNotLocked
	}
	t.deletedT[accountID] = true
	return nil
}

func (t *memTx) InsertTransactions(ctx context.Context, txs []*models.Transaction) error {
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		cp := *tx
		t.newT = append(t.newT, &cp)
	}
	return nil
}

func (t *memTx) TouchLastSync(ctx context.Context, accountID string, at time.Time) error {
	t.touched[accountID] = at
	return nil
}

// fakeAggregator returns canned data and records call concurrency
type fakeAggregator struct {
	family      string
	credential  string
	info        *aggregator.AccountInfo
	holdings    []*aggregator.HoldingData
	txs         []*aggregator.TransactionData
	infoErr     error
	holdingsErr error
	txErr       error
	delay       time.Duration

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeAggregator) Family() string { return f.family }

func (f *fakeAggregator) ExchangeToken(ctx context.Context, publicToken string) (string, error) {
	f.calls.Add(1)
	if err := aggregator.ValidateToken(publicToken); err != nil {
		return "", err
	}
	return f.credential, nil
}

func (f *fakeAggregator) GetAccountInfo(ctx context.Context, accessToken string) (*aggregator.AccountInfo, error) {
	f.calls.Add(1)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeAggregator) GetHoldings(ctx context.Context, accessToken string) ([]*aggregator.HoldingData, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.holdingsErr != nil {
		return nil, f.holdingsErr
	}
	return f.holdings, nil
}

func (f *fakeAggregator) GetTransactions(ctx context.Context, accessToken string) ([]*aggregator.TransactionData, error) {
	f.calls.Add(1)
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.txs, nil
}

func newFakeBroker() *fakeAggregator {
	sym := "AAPL"
	qty := decimal.NewFromInt(10)
	price := decimal.NewFromInt(150)
	return &fakeAggregator{
		family:     "broker",
		credential: "broker-credential-0001",
		info: &aggregator.AccountInfo{
			ProviderAccountID: "broker_acct_1",
			Name:              "Brokerage 0001",
			Type:              types.AccountTypeBrokerage,
			Status:            "active",
		},
		holdings: []*aggregator.HoldingData{{
			Symbol:       "aapl",
			Quantity:     qty,
			AvgCost:      price,
			CurrentPrice: decimal.NewFromInt(160),
		}},
		txs: []*aggregator.TransactionData{{
			Symbol:   &sym,
			Type:     types.TransactionBuy,
			Quantity: &qty,
			Price:    &price,
			Amount:   qty.Mul(price),
			Date:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		}},
	}
}

var errInjected = errors.New("injected failure")

func fixedClock() time.Time {
	return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func testSyncOptions() SyncOptions {
	return SyncOptions{
		Concurrency:       4,
		RetryAttempts:     2,
		RetryInitialDelay: time.Millisecond,
		Now:               fixedClock,
	}
}

func seedAccount(store *memStore, userID string, provider types.Provider) *models.Account {
	_ = store.Ensure(context.Background(), &models.User{ID: userID, IsActive: true})
	a := &models.Account{
		UserID:            userID,
		Provider:          provider,
		AccountType:       provider.AccountType(),
		ProviderAccountID: uuid.New().String(),
		Name:              string(provider) + " account",
		AccessToken:       "mock_" + string(provider) + "_token_12345678",
	}
	_ = store.Upsert(context.Background(), a)
	return a
}

func seedHolding(store *memStore, accountID, symbol string, qty, avg, price float64) *models.Holding {
	h := &models.Holding{
		AccountID:    accountID,
		Symbol:       symbol,
		Quantity:     decimal.NewFromFloat(qty),
		AvgCost:      decimal.NewFromFloat(avg),
		CurrentPrice: decimal.NewFromFloat(price),
	}
	h.Normalize()
	_ = store.Create(context.Background(), h)
	return h
}
