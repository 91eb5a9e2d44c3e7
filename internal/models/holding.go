package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a position in one security within one account
type Holding struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"accountId" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost" db:"avg_cost"`
	CurrentPrice decimal.Decimal `json:"currentPrice" db:"current_price"`
	Value        decimal.Decimal `json:"value" db:"value"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// Normalize uppercases the symbol and recomputes value from quantity and price
func (h *Holding) Normalize() {
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	h.Value = h.Quantity.Mul(h.CurrentPrice)
}
