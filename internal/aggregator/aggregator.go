// Package aggregator defines the provider aggregator contract and its
// broker and bank variants.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// Aggregator exchanges link tokens for credentials and reads account data
// from one provider family. Implementations must be safe for concurrent use.
type Aggregator interface {
	// ExchangeToken turns a short-lived public token into a durable credential
	ExchangeToken(ctx context.Context, publicToken string) (string, error)

	// GetAccountInfo returns the provider's description of the account
	GetAccountInfo(ctx context.Context, accessToken string) (*AccountInfo, error)

	// GetHoldings returns the current positions
	GetHoldings(ctx context.Context, accessToken string) ([]*HoldingData, error)

	// GetTransactions returns transactions sorted by date descending
	GetTransactions(ctx context.Context, accessToken string) ([]*TransactionData, error)

	// Family names the provider family, e.g. "broker" or "bank"
	Family() string
}

// AccountInfo is the provider's view of an account
type AccountInfo struct {
	ProviderAccountID string
	Name              string
	Type              types.AccountType
	Status            string
}

// HoldingData is a position as reported by a provider
type HoldingData struct {
	Symbol       string
	Quantity     decimal.Decimal
	AvgCost      decimal.Decimal
	CurrentPrice decimal.Decimal
	Value        decimal.Decimal
}

// TransactionData is a transaction as reported by a provider
type TransactionData struct {
	Symbol      *string
	Type        types.TransactionType
	Quantity    *decimal.Decimal
	Price       *decimal.Decimal
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

var (
	// ErrMalformedToken indicates an empty token or one with control characters
	ErrMalformedToken = fmt.Errorf("malformed token")

	// ErrProviderUnavailable indicates the provider could not be reached
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
)

// AggregatorError wraps errors with the family and operation that failed
type AggregatorError struct {
	Family string
	Op     string
	Err    error
}

func (e *AggregatorError) Error() string {
	return fmt.Sprintf("aggregator error [%s:%s]: %v", e.Family, e.Op, e.Err)
}

func (e *AggregatorError) Unwrap() error {
	return e.Err
}

// NewAggregatorError creates a new AggregatorError
func NewAggregatorError(family, op string, err error) *AggregatorError {
	return &AggregatorError{Family: family, Op: op, Err: err}
}

// ValidateToken rejects empty, whitespace-only and control-character tokens
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMalformedToken
	}
	for _, r := range token {
		if unicode.IsControl(r) {
			return ErrMalformedToken
		}
	}
	return nil
}

// lastN returns the last n runes of s, or all of s when shorter
func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
