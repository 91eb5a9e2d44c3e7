// Package config provides configuration management for the portfolio aggregator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Aggregator AggregatorConfig
	Sync       SyncConfig
	Snapshot   SnapshotConfig
	Pricing    PricingConfig
	Query      QueryConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration. Only used when the
// snapshot backend is "clickhouse".
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration. Without Redis, price quotes are not
// cached and the daily snapshot lock is skipped.
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AggregatorConfig holds provider aggregator configuration
type AggregatorConfig struct {
	Seed int64 // seed for deterministic demo data
}

// SyncConfig holds sync coordinator and refresher configuration
type SyncConfig struct {
	Interval          time.Duration // refresher poll interval
	StaleAfter        time.Duration // accounts older than this are re-synced
	Concurrency       int
	Timeout           time.Duration // per-account sync deadline
	RetryAttempts     int
	RetryInitialDelay time.Duration
}

// SnapshotConfig holds daily snapshot configuration
type SnapshotConfig struct {
	Concurrency int
	RunHourUTC  int
	Backend     string // postgres or clickhouse
	LockTTL     time.Duration
}

// PricingConfig holds price oracle configuration
type PricingConfig struct {
	CacheTTL           time.Duration
	RequestsPerSecond  float64
	Burst              int
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// QueryConfig holds transaction query and history limits
type QueryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxHistoryDays  int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Aggregator: AggregatorConfig{
			Seed: getEnvAsInt64("AGGREGATOR_SEED", 42),
		},
		Sync: SyncConfig{
			Interval:          getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute),
			StaleAfter:        getEnvAsDuration("SYNC_STALE_AFTER", 6*time.Hour),
			Concurrency:       getEnvAsInt("SYNC_CONCURRENCY", 4),
			Timeout:           getEnvAsDuration("SYNC_TIMEOUT", 30*time.Second),
			RetryAttempts:     getEnvAsInt("SYNC_RETRY_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("SYNC_RETRY_INITIAL_DELAY", 500*time.Millisecond),
		},
		Snapshot: SnapshotConfig{
			Concurrency: getEnvAsInt("SNAPSHOT_CONCURRENCY", 8),
			RunHourUTC:  getEnvAsInt("SNAPSHOT_RUN_HOUR_UTC", 0),
			Backend:     strings.ToLower(getEnv("SNAPSHOT_BACKEND", "postgres")),
			LockTTL:     getEnvAsDuration("SNAPSHOT_LOCK_TTL", 23*time.Hour),
		},
		Pricing: PricingConfig{
			CacheTTL:           getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
			RequestsPerSecond:  getEnvAsFloat("PRICE_REQUESTS_PER_SECOND", 20),
			Burst:              getEnvAsInt("PRICE_BURST", 40),
			BreakerMaxFailures: getEnvAsInt("PRICE_BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:     getEnvAsDuration("PRICE_BREAKER_TIMEOUT", 30*time.Second),
		},
		Query: QueryConfig{
			DefaultPageSize: getEnvAsInt("QUERY_DEFAULT_PAGE_SIZE", 50),
			MaxPageSize:     getEnvAsInt("QUERY_MAX_PAGE_SIZE", 100),
			MaxHistoryDays:  getEnvAsInt("QUERY_MAX_HISTORY_DAYS", 3650),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.Snapshot.Backend != "postgres" && c.Snapshot.Backend != "clickhouse" {
		return fmt.Errorf("invalid SNAPSHOT_BACKEND %q: must be postgres or clickhouse", c.Snapshot.Backend)
	}
	if c.Snapshot.RunHourUTC < 0 || c.Snapshot.RunHourUTC > 23 {
		return fmt.Errorf("invalid SNAPSHOT_RUN_HOUR_UTC %d: must be 0-23", c.Snapshot.RunHourUTC)
	}
	if c.Query.DefaultPageSize < 1 || c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d", c.Query.DefaultPageSize, c.Query.MaxPageSize)
	}
	if c.Query.MaxHistoryDays < 1 {
		return fmt.Errorf("invalid QUERY_MAX_HISTORY_DAYS %d", c.Query.MaxHistoryDays)
	}
	return nil
}

// RedisEnabled reports whether Redis is enabled and has a host
func (c *Config) RedisEnabled() bool {
	return c.Database.Redis.Enabled && c.Database.Redis.Host != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
