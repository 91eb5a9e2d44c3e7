package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/logging"
)

// Cache is the subset of the Redis cache used for quotes
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const (
	priceKeyPrefix = "price:"
	// noQuote marks symbols the upstream oracle has no price for
	noQuote = "none"
)

// CachedOracle memoizes quotes from another oracle in Redis. Cache failures
// are logged and the upstream oracle is consulted directly.
type CachedOracle struct {
	next  Oracle
	cache Cache
	ttl   time.Duration
}

// NewCachedOracle creates a caching oracle in front of next
func NewCachedOracle(next Oracle, cache Cache, ttl time.Duration) *CachedOracle {
	return &CachedOracle{next: next, cache: cache, ttl: ttl}
}

// GetPrice implements Oracle
func (o *CachedOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = NormalizeSymbol(symbol)
	key := priceKeyPrefix + symbol
	logger := logging.FromContext(ctx).WithField("symbol", symbol)

	cached, err := o.cache.Get(ctx, key)
	switch {
	case err == nil:
		if cached == noQuote {
			return decimal.Zero, false, nil
		}
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, true, nil
		}
		logger.WithField("value", cached).Warn("Discarding unparseable cached price")
	case !errors.Is(err, redis.Nil):
		logger.WithError(err).Warn("Price cache read failed")
	}

	price, ok, err := o.next.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, false, err
	}

	value := noQuote
	if ok {
		value = price.String()
	}
	if err := o.cache.Set(ctx, key, value, o.ttl); err != nil {
		logger.WithError(err).Warn("Price cache write failed")
	}

	return price, ok, nil
}
