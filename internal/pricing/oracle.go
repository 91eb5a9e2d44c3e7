// Package pricing provides price oracles used by the valuation engine.
package pricing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Oracle returns the latest known price for a symbol. ok is false when the
// oracle has no quote; err is reserved for failures of the oracle itself.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
}

// OracleFunc adapts a function to the Oracle interface
type OracleFunc func(ctx context.Context, symbol string) (decimal.Decimal, bool, error)

// GetPrice implements Oracle
func (f OracleFunc) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return f(ctx, symbol)
}

// NormalizeSymbol uppercases and trims a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
