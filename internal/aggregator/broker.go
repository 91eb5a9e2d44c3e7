package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// BrokerSymbols is the demo universe for brokerage accounts
var BrokerSymbols = []string{"AAPL", "GOOGL", "TSLA", "MSFT", "NVDA", "AMZN", "META", "NFLX"}

// BrokerAggregator serves brokerage providers (robinhood, schwab) with
// deterministic demo data.
type BrokerAggregator struct {
	mockSource
}

var _ Aggregator = (*BrokerAggregator)(nil)

// NewBrokerAggregator creates a broker aggregator
func NewBrokerAggregator(seed int64, clock Clock) *BrokerAggregator {
	return &BrokerAggregator{
		mockSource: newMockSource("broker", types.AccountTypeBrokerage, "Brokerage Account", seed, clock),
	}
}

// GetHoldings returns 2-5 distinct positions
func (b *BrokerAggregator) GetHoldings(ctx context.Context, accessToken string) ([]*HoldingData, error) {
	if err := b.check(ctx, "GetHoldings", accessToken); err != nil {
		return nil, err
	}

	r := b.rng(accessToken, "holdings")
	count := between(r, 2, 5)
	picked := r.Perm(len(BrokerSymbols))[:count]

	holdings := make([]*HoldingData, 0, count)
	for _, idx := range picked {
		quantity := uniform(r, 1, 20)
		avgCost := uniform(r, 50, 500)
		factor := decimal.NewFromFloat(0.8 + r.Float64()*0.5)
		price := avgCost.Mul(factor).Round(2)

		holdings = append(holdings, &HoldingData{
			Symbol:       BrokerSymbols[idx],
			Quantity:     quantity,
			AvgCost:      avgCost,
			CurrentPrice: price,
			Value:        quantity.Mul(price),
		})
	}
	return holdings, nil
}

// GetTransactions returns 10-30 trades from the last year, newest first
func (b *BrokerAggregator) GetTransactions(ctx context.Context, accessToken string) ([]*TransactionData, error) {
	if err := b.check(ctx, "GetTransactions", accessToken); err != nil {
		return nil, err
	}

	r := b.rng(accessToken, "transactions")
	today := b.today()
	count := between(r, 10, 30)

	txs := make([]*TransactionData, 0, count)
	for i := 0; i < count; i++ {
		symbol := BrokerSymbols[r.Intn(len(BrokerSymbols))]

		var typ types.TransactionType
		var quantity, price decimal.Decimal
		switch roll := r.Intn(10); {
		case roll == 0:
			typ = types.TransactionDividend
			quantity = uniform(r, 1, 20)
			price = uniform(r, 0.1, 2)
		case roll%2 == 0:
			typ = types.TransactionBuy
			quantity = uniform(r, 1, 10)
			price = uniform(r, 50, 500)
		default:
			typ = types.TransactionSell
			quantity = uniform(r, 1, 10)
			price = uniform(r, 50, 500)
		}

		sym := symbol
		q := quantity
		p := price
		txs = append(txs, &TransactionData{
			Symbol:      &sym,
			Type:        typ,
			Quantity:    &q,
			Price:       &p,
			Amount:      quantity.Mul(price).Round(2),
			Date:        today.Add(-time.Duration(between(r, 1, 365)) * 24 * time.Hour),
			Description: describeTrade(typ, quantity, symbol),
		})
	}

	sortByDateDesc(txs)
	return txs, nil
}

func describeTrade(typ types.TransactionType, quantity decimal.Decimal, symbol string) string {
	if typ == types.TransactionDividend {
		return fmt.Sprintf("Dividend on %s shares of %s", quantity.StringFixed(2), symbol)
	}
	verb := string(typ)
	return fmt.Sprintf("%s%s %s shares of %s", strings.ToUpper(verb[:1]), verb[1:], quantity.StringFixed(2), symbol)
}
