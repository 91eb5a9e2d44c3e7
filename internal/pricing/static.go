package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// DefaultPrices is the demo quote table
func DefaultPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL":           decimal.RequireFromString("175.50"),
		"GOOGL":          decimal.RequireFromString("140.25"),
		"MSFT":           decimal.RequireFromString("380.00"),
		"AMZN":           decimal.RequireFromString("145.75"),
		"TSLA":           decimal.RequireFromString("250.30"),
		types.CashSymbol: decimal.NewFromInt(1),
	}
}

// StaticOracle serves quotes from an in-memory table
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle creates an oracle over prices. A nil map yields DefaultPrices.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	if prices == nil {
		prices = DefaultPrices()
	}
	normalized := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		normalized[NormalizeSymbol(sym)] = p
	}
	return &StaticOracle{prices: normalized}
}

// GetPrice implements Oracle
func (o *StaticOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[NormalizeSymbol(symbol)]
	return p, ok, nil
}

// SetPrice updates or adds a quote
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	o.prices[NormalizeSymbol(symbol)] = price
	o.mu.Unlock()
}
