package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

func testPostgresConfig() *config.PostgresConfig {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return &config.PostgresConfig{
		Host:           get("POSTGRES_HOST", "localhost"),
		Port:           get("POSTGRES_PORT", "5432"),
		Database:       get("POSTGRES_DB", "portfolio"),
		User:           get("POSTGRES_USER", "portfolio"),
		Password:       get("POSTGRES_PASSWORD", "portfolio_dev_password"),
		MaxConnections: 4,
	}
}

// setupPostgres connects and migrates, skipping when no database is available
func setupPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(PostgresURL(cfg), "../../migrations/postgres"))
	return db
}

func seedAccount(t *testing.T, db *PostgresDB) (*models.User, *models.Account) {
	t.Helper()
	ctx := testContext(t)

	user := &models.User{ID: uuid.New().String(), Email: "test@example.com", IsActive: true}
	require.NoError(t, NewUserRepository(db).Ensure(ctx, user))

	account := &models.Account{
		UserID:            user.ID,
		Provider:          types.ProviderRobinhood,
		AccountType:       types.AccountTypeBrokerage,
		ProviderAccountID: "broker_" + uuid.New().String()[:8],
		Name:              "Brokerage Account",
		AccessToken:       "mock_broker_token_12345678",
	}
	require.NoError(t, NewAccountRepository(db).Upsert(ctx, account))
	return user, account
}

func TestNewPostgresDB(t *testing.T) {
	db := setupPostgres(t)
	assert.NoError(t, db.Ping(testContext(t)))
	assert.NotNil(t, db.Pool())
}

func TestPostgresURL(t *testing.T) {
	url := PostgresURL(&config.PostgresConfig{
		Host: "db", Port: "5432", User: "u", Password: "p@ss", Database: "portfolio",
	})
	assert.Equal(t, "postgres://u:p%40ss@db:5432/portfolio?sslmode=disable", url)
}

func TestAccountRepository_OwnershipAndDelete(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)
	repo := NewAccountRepository(db)
	user, account := seedAccount(t, db)

	got, err := repo.GetByIDAndUser(ctx, account.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Name, got.Name)
	assert.Nil(t, got.LastSync)

	_, err = repo.GetByIDAndUser(ctx, account.ID, uuid.New().String())
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = repo.GetByIDAndUser(ctx, "not-a-uuid", user.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, repo.DeleteByIDAndUser(ctx, account.ID, user.ID))
	assert.True(t, errors.Is(repo.DeleteByIDAndUser(ctx, account.ID, user.ID), ErrNotFound))
}

func TestAccountRepository_UpsertRelink(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)
	repo := NewAccountRepository(db)
	user, account := seedAccount(t, db)

	relinked := &models.Account{
		UserID:            user.ID,
		Provider:          account.Provider,
		AccountType:       account.AccountType,
		ProviderAccountID: account.ProviderAccountID,
		Name:              "Renamed",
		AccessToken:       "mock_broker_token_87654321",
	}
	require.NoError(t, repo.Upsert(ctx, relinked))
	assert.Equal(t, account.ID, relinked.ID)

	accounts, err := repo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Renamed", accounts[0].Name)
}

func TestAccountDataStore_ReplaceAndRollback(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)
	_, account := seedAccount(t, db)
	store := NewAccountDataStore(db)
	holdings := NewHoldingRepository(db)

	replace := func(symbols ...string) func(tx AccountDataTx) error {
		return func(tx AccountDataTx) error {
			if err := tx.DeleteHoldings(ctx, account.ID); err != nil {
				return err
			}
			var hs []*models.Holding
			for _, s := range symbols {
				hs = append(hs, &models.Holding{
					AccountID:    account.ID,
					Symbol:       s,
					Quantity:     decimal.NewFromInt(2),
					AvgCost:      decimal.NewFromInt(100),
					CurrentPrice: decimal.NewFromInt(110),
					Value:        decimal.NewFromInt(220),
				})
			}
			if err := tx.InsertHoldings(ctx, hs); err != nil {
				return err
			}
			return tx.TouchLastSync(ctx, account.ID, time.Now().UTC())
		}
	}

	require.NoError(t, store.WithTx(ctx, replace("AAPL", "MSFT")))

	injected := errors.New("injected failure")
	err := store.WithTx(ctx, func(tx AccountDataTx) error {
		if err := tx.DeleteHoldings(ctx, account.ID); err != nil {
			return err
		}
		return injected
	})
	assert.ErrorIs(t, err, injected)

	got, err := holdings.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.True(t, got[0].Value.Equal(decimal.NewFromInt(220)))
}

func TestAccountDataStore_ConcurrentReplacesDoNotInterleave(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)
	_, account := seedAccount(t, db)
	store := NewAccountDataStore(db)

	replace := func(symbol string, hold time.Duration) func(tx AccountDataTx) error {
		return func(tx AccountDataTx) error {
			if err := tx.LockAccount(ctx, account.ID); err != nil {
				return err
			}
			if err := tx.DeleteHoldings(ctx, account.ID); err != nil {
				return err
			}
			err := tx.InsertHoldings(ctx, []*models.Holding{{
				AccountID:    account.ID,
				Symbol:       symbol,
				Quantity:     decimal.NewFromInt(1),
				AvgCost:      decimal.NewFromInt(10),
				CurrentPrice: decimal.NewFromInt(10),
				Value:        decimal.NewFromInt(10),
			}})
			if err != nil {
				return err
			}
			time.Sleep(hold)
			return tx.TouchLastSync(ctx, account.ID, time.Now().UTC())
		}
	}

	require.NoError(t, store.WithTx(ctx, replace("OLD", 0)))

	first := make(chan error, 1)
	go func() { first <- store.WithTx(ctx, replace("AAPL", 300*time.Millisecond)) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.WithTx(ctx, replace("MSFT", 0)))
	require.NoError(t, <-first)

	got, err := NewHoldingRepository(db).ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "MSFT", got[0].Symbol)
}

func TestAccountDataStore_LockMissingAccount(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)

	err := NewAccountDataStore(db).WithTx(ctx, func(tx AccountDataTx) error {
		return tx.LockAccount(ctx, uuid.New().String())
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionRepository_FindOrderAndFilters(t *testing.T) {
	db := setupPostgres(t)
	ctx := testContext(t)
	_, account := seedAccount(t, db)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sym := "AAPL"
	qty := decimal.NewFromInt(1)
	price := decimal.NewFromInt(100)
	txs := []*models.Transaction{
		{AccountID: account.ID, Type: types.TransactionDeposit, Amount: decimal.NewFromInt(50), Date: day},
		{AccountID: account.ID, Type: types.TransactionBuy, Symbol: &sym, Quantity: &qty, Price: &price, Amount: price, Date: day.AddDate(0, 0, 1)},
		{AccountID: account.ID, Type: types.TransactionWithdrawal, Amount: decimal.NewFromInt(20), Date: day},
	}
	require.NoError(t, NewAccountDataStore(db).WithTx(ctx, func(tx AccountDataTx) error {
		return tx.InsertTransactions(ctx, txs)
	}))

	repo := NewTransactionRepository(db)
	filters := &TransactionFilters{AccountIDs: []string{account.ID}, Limit: 10}

	total, err := repo.Count(ctx, filters)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	page, err := repo.Find(ctx, filters)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, types.TransactionBuy, page[0].Type)
	assert.True(t, page[1].ID < page[2].ID)
	require.NotNil(t, page[0].Quantity)
	assert.Nil(t, page[1].Quantity)

	filters.Symbol = "aap"
	total, err = repo.Count(ctx, filters)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	filters.Symbol = "%"
	total, err = repo.Count(ctx, filters)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestSnapshotRepository_AppendAndList(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewSnapshotRepository(db)
	target := models.UserTarget(uuid.New().String())

	base := time.Now().UTC().Add(-48 * time.Hour)
	for i := 2; i >= 0; i-- {
		require.NoError(t, repo.Append(ctx, &models.PortfolioSnapshot{
			TargetType:   target.Type,
			TargetID:     target.ID,
			TotalValue:   decimal.NewFromInt(int64(100 + i)),
			SnapshotDate: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := repo.ListSince(ctx, target, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].SnapshotDate.Before(got[i-1].SnapshotDate))
	}
	assert.True(t, got[0].TotalValue.Equal(decimal.NewFromInt(100)))
}
