// Package app wires configuration, storage backends and services into the
// components the process entry points run.
package app

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/portfolio-aggregator/internal/aggregator"
	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/pricing"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
)

// App holds the connected backends and the services built on them
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache   // nil when disabled
	ClickHouse *storage.ClickHouseDB // nil unless the snapshot backend is clickhouse

	Sync      *service.SyncService
	Portfolio *service.PortfolioService
	Snapshots *service.SnapshotService
	Query     *service.QueryService
	Holdings  *service.HoldingService
}

// New connects to the configured backends and builds the services. Close
// releases the connections.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.Postgres = postgres

	if cfg.RedisEnabled() {
		redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = redisCache
	} else {
		logger.Warn("Redis disabled: price quotes are not cached and the daily snapshot lock is skipped")
	}

	var snapshots service.SnapshotRepository = storage.NewSnapshotRepository(postgres)
	if cfg.Snapshot.Backend == "clickhouse" {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.ClickHouse = clickhouse
		snapshots = storage.NewClickHouseSnapshotRepository(clickhouse)
	}

	logger.WithField("snapshot_backend", cfg.Snapshot.Backend).Info("Database connections established")

	users := storage.NewUserRepository(postgres)
	accounts := storage.NewAccountRepository(postgres)
	holdings := storage.NewHoldingRepository(postgres)
	transactions := storage.NewTransactionRepository(postgres)
	accountData := storage.NewAccountDataStore(postgres)

	oracle := a.newOracle()
	locks := service.NewAccountLocks()
	registry := aggregator.NewMockRegistry(cfg.Aggregator.Seed, nil)

	a.Sync = service.NewSyncService(registry, users, accounts, accountData, locks, service.SyncOptions{
		Concurrency:       cfg.Sync.Concurrency,
		Timeout:           cfg.Sync.Timeout,
		RetryAttempts:     cfg.Sync.RetryAttempts,
		RetryInitialDelay: cfg.Sync.RetryInitialDelay,
	})
	a.Portfolio = service.NewPortfolioService(accounts, holdings, snapshots, oracle)
	a.Query = service.NewQueryService(accounts, transactions, cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize)
	a.Holdings = service.NewHoldingService(users, accounts, holdings, oracle, locks)

	var runLock service.RunLock
	if a.Redis != nil {
		runLock = a.Redis
	}
	a.Snapshots = service.NewSnapshotService(users, snapshots, a.Portfolio, runLock, service.SnapshotOptions{
		Concurrency:    cfg.Snapshot.Concurrency,
		RunHourUTC:     cfg.Snapshot.RunHourUTC,
		LockTTL:        cfg.Snapshot.LockTTL,
		MaxHistoryDays: cfg.Query.MaxHistoryDays,
	})

	return a, nil
}

// newOracle builds the quote chain: Redis cache, then rate limit and circuit
// breaker, then the static table.
func (a *App) newOracle() pricing.Oracle {
	cfg := a.Config.Pricing

	breakerConfig := circuitbreaker.DefaultConfig("price-oracle")
	if cfg.BreakerMaxFailures > 0 {
		breakerConfig.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerTimeout > 0 {
		breakerConfig.Timeout = cfg.BreakerTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, cfg.Burst))
	}

	var oracle pricing.Oracle = pricing.NewGuardedOracle(
		pricing.NewStaticOracle(nil),
		limiter,
		circuitbreaker.NewCircuitBreaker(breakerConfig),
	)
	if a.Redis != nil {
		oracle = pricing.NewCachedOracle(oracle, a.Redis, cfg.CacheTTL)
	}
	return oracle
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing Redis connection")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
