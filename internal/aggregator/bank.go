package aggregator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// BankAggregator serves bank providers (plaid, akoya). Banks report a single
// cash position and cash movements only.
type BankAggregator struct {
	mockSource
}

var _ Aggregator = (*BankAggregator)(nil)

// NewBankAggregator creates a bank aggregator
func NewBankAggregator(seed int64, clock Clock) *BankAggregator {
	return &BankAggregator{
		mockSource: newMockSource("bank", types.AccountTypeBank, "Bank Account", seed, clock),
	}
}

// GetHoldings returns exactly one USD holding whose value equals its quantity
func (b *BankAggregator) GetHoldings(ctx context.Context, accessToken string) ([]*HoldingData, error) {
	if err := b.check(ctx, "GetHoldings", accessToken); err != nil {
		return nil, err
	}

	r := b.rng(accessToken, "holdings")
	balance := uniform(r, 1000, 50000)

	return []*HoldingData{{
		Symbol:       types.CashSymbol,
		Quantity:     balance,
		AvgCost:      decimal.NewFromInt(1),
		CurrentPrice: decimal.NewFromInt(1),
		Value:        balance,
	}}, nil
}

// GetTransactions returns 20-50 deposits and withdrawals from the last 90 days
func (b *BankAggregator) GetTransactions(ctx context.Context, accessToken string) ([]*TransactionData, error) {
	if err := b.check(ctx, "GetTransactions", accessToken); err != nil {
		return nil, err
	}

	r := b.rng(accessToken, "transactions")
	today := b.today()
	count := between(r, 20, 50)

	txs := make([]*TransactionData, 0, count)
	for i := 0; i < count; i++ {
		typ := types.TransactionDeposit
		desc := "Deposit transaction"
		if r.Intn(2) == 1 {
			typ = types.TransactionWithdrawal
			desc = "Withdrawal transaction"
		}

		txs = append(txs, &TransactionData{
			Type:        typ,
			Amount:      uniform(r, 10, 2000),
			Date:        today.Add(-time.Duration(between(r, 1, 90)) * 24 * time.Hour),
			Description: desc,
		})
	}

	sortByDateDesc(txs)
	return txs, nil
}
