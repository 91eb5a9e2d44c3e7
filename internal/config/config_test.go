package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("PRICE_CACHE_TTL", "30s")
	t.Setenv("AGGREGATOR_SEED", "7")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 30*time.Second, cfg.Pricing.CacheTTL)
	assert.Equal(t, int64(7), cfg.Aggregator.Seed)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Query.DefaultPageSize)
	assert.Equal(t, 100, cfg.Query.MaxPageSize)
	assert.Equal(t, "postgres", cfg.Snapshot.Backend)
	assert.Equal(t, 0, cfg.Snapshot.RunHourUTC)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoadConfig_RedisDisabled(t *testing.T) {
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown snapshot backend", "SNAPSHOT_BACKEND", "mongo"},
		{"run hour out of range", "SNAPSHOT_RUN_HOUR_UTC", "24"},
		{"default page size above max", "QUERY_DEFAULT_PAGE_SIZE", "500"},
		{"zero history window", "QUERY_MAX_HISTORY_DAYS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "200")
	t.Setenv("TEST_INT_INVALID", "invalid")
	t.Setenv("TEST_INT64", "9007199254740993")
	t.Setenv("TEST_FLOAT", "0.25")

	assert.Equal(t, 200, getEnvAsInt("TEST_INT", 100))
	assert.Equal(t, 100, getEnvAsInt("TEST_INT_INVALID", 100))
	assert.Equal(t, 100, getEnvAsInt("TEST_INT_NOTSET", 100))
	assert.Equal(t, int64(9007199254740993), getEnvAsInt64("TEST_INT64", 1))
	assert.Equal(t, 0.25, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.5, getEnvAsFloat("TEST_INT_INVALID", 1.5))
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnvAsDuration(tt.key, tt.defaultValue))
		})
	}
}
