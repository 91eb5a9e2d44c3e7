package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// Transaction is a canonical account transaction. Security trades carry
// symbol, quantity and price; cash movements carry none of the three.
type Transaction struct {
	ID          string                `json:"id" db:"id"`
	AccountID   string                `json:"accountId" db:"account_id"`
	Symbol      *string               `json:"symbol" db:"symbol"`
	Type        types.TransactionType `json:"type" db:"transaction_type"`
	Quantity    *decimal.Decimal      `json:"quantity" db:"quantity"`
	Price       *decimal.Decimal      `json:"price" db:"price"`
	Amount      decimal.Decimal       `json:"amount" db:"amount"`
	Date        time.Time             `json:"date" db:"transaction_date"`
	Description string                `json:"description" db:"description"`
	CreatedAt   time.Time             `json:"createdAt" db:"created_at"`
}

// Validate checks that symbol, quantity and price are all present for
// security trades and all absent for cash movements
func (t *Transaction) Validate() error {
	if _, ok := types.ParseTransactionType(string(t.Type)); !ok {
		return fmt.Errorf("transaction %s: unknown type %q", t.ID, t.Type)
	}

	present := 0
	if t.Symbol != nil {
		present++
	}
	if t.Quantity != nil {
		present++
	}
	if t.Price != nil {
		present++
	}

	if t.Type.IsSecurityTrade() {
		if present != 3 {
			return fmt.Errorf("transaction %s: %s requires symbol, quantity and price", t.ID, t.Type)
		}
		return nil
	}
	if present != 0 {
		return fmt.Errorf("transaction %s: %s must not carry symbol, quantity or price", t.ID, t.Type)
	}
	return nil
}

// Normalize uppercases the symbol when present
func (t *Transaction) Normalize() {
	if t.Symbol != nil {
		s := strings.ToUpper(strings.TrimSpace(*t.Symbol))
		t.Symbol = &s
	}
}
