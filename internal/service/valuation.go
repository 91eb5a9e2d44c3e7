package service

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/pricing"
)

// Price sources, in order of preference
const (
	PriceSourceOracle  = "oracle"
	PriceSourceStored  = "stored"
	PriceSourceAvgCost = "avg_cost"
)

// priceLookupConcurrency bounds in-flight oracle requests per summary
const priceLookupConcurrency = 8

var hundred = decimal.NewFromInt(100)

// HoldingValuation is one holding priced for a summary
type HoldingValuation struct {
	HoldingID       string          `json:"holdingId"`
	AccountID       string          `json:"accountId"`
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"quantity"`
	AvgCost         decimal.Decimal `json:"avgCost"`
	Price           decimal.Decimal `json:"price"`
	PriceSource     string          `json:"priceSource"`
	CostBasis       decimal.Decimal `json:"costBasis"`
	MarketValue     decimal.Decimal `json:"marketValue"`
	GainLoss        decimal.Decimal `json:"gainLoss"`
	GainLossPercent decimal.Decimal `json:"gainLossPercent"`
}

// AllocationEntry is a holding's share of the total market value
type AllocationEntry struct {
	HoldingID string          `json:"holdingId"`
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
	Percent   decimal.Decimal `json:"percent"`
}

// Summary is a point-in-time valuation of a set of holdings
type Summary struct {
	TotalValue           decimal.Decimal     `json:"totalValue"`
	TotalCostBasis       decimal.Decimal     `json:"totalCostBasis"`
	TotalGainLoss        decimal.Decimal     `json:"totalGainLoss"`
	TotalGainLossPercent decimal.Decimal     `json:"totalGainLossPercent"`
	HoldingsCount        int                 `json:"holdingsCount"`
	Holdings             []*HoldingValuation `json:"holdings"`
	Allocation           []*AllocationEntry  `json:"allocation"`
}

// gainLossPercent is gainLoss / costBasis * 100, or zero without a positive basis
func gainLossPercent(gainLoss, costBasis decimal.Decimal) decimal.Decimal {
	if !costBasis.IsPositive() {
		return decimal.Zero
	}
	return gainLoss.Div(costBasis).Mul(hundred)
}

// Summarize values holdings with the oracle's prices. Each holding is priced
// from the oracle when it returns a positive quote, else from its stored
// current price when positive, else at average cost. Oracle errors are logged
// and fall through. Outputs are rounded to 2 places; totals and allocation
// are computed from unrounded values. The oracle may be nil.
func Summarize(ctx context.Context, holdings []*models.Holding, oracle pricing.Oracle) *Summary {
	quotes := lookupPrices(ctx, holdings, oracle)

	var (
		totalValue = decimal.Zero
		totalCost  = decimal.Zero
		values     = make([]decimal.Decimal, len(holdings))
	)

	summary := &Summary{
		HoldingsCount: len(holdings),
		Holdings:      make([]*HoldingValuation, 0, len(holdings)),
		Allocation:    []*AllocationEntry{},
	}

	for i, h := range holdings {
		price, source := h.AvgCost, PriceSourceAvgCost
		if q, ok := quotes[pricing.NormalizeSymbol(h.Symbol)]; ok {
			price, source = q, PriceSourceOracle
		} else if h.CurrentPrice.IsPositive() {
			price, source = h.CurrentPrice, PriceSourceStored
		}

		costBasis := h.Quantity.Mul(h.AvgCost)
		marketValue := h.Quantity.Mul(price)
		gainLoss := marketValue.Sub(costBasis)

		values[i] = marketValue
		totalValue = totalValue.Add(marketValue)
		totalCost = totalCost.Add(costBasis)

		summary.Holdings = append(summary.Holdings, &HoldingValuation{
			HoldingID:       h.ID,
			AccountID:       h.AccountID,
			Symbol:          h.Symbol,
			Quantity:        h.Quantity,
			AvgCost:         h.AvgCost.Round(2),
			Price:           price.Round(2),
			PriceSource:     source,
			CostBasis:       costBasis.Round(2),
			MarketValue:     marketValue.Round(2),
			GainLoss:        gainLoss.Round(2),
			GainLossPercent: gainLossPercent(gainLoss, costBasis).Round(2),
		})
	}

	totalGainLoss := totalValue.Sub(totalCost)
	summary.TotalValue = totalValue.Round(2)
	summary.TotalCostBasis = totalCost.Round(2)
	summary.TotalGainLoss = totalGainLoss.Round(2)
	summary.TotalGainLossPercent = gainLossPercent(totalGainLoss, totalCost).Round(2)

	if totalValue.IsPositive() {
		for i, h := range holdings {
			if !values[i].IsPositive() {
				continue
			}
			summary.Allocation = append(summary.Allocation, &AllocationEntry{
				HoldingID: h.ID,
				Symbol:    h.Symbol,
				Value:     values[i].Round(2),
				Percent:   values[i].Div(totalValue).Mul(hundred).Round(2),
			})
		}
		sort.SliceStable(summary.Allocation, func(i, j int) bool {
			return summary.Allocation[i].Value.GreaterThan(summary.Allocation[j].Value)
		})
	}

	return summary
}

// lookupPrices fetches one quote per distinct symbol with bounded concurrency.
// Only usable (positive) quotes are returned.
func lookupPrices(ctx context.Context, holdings []*models.Holding, oracle pricing.Oracle) map[string]decimal.Decimal {
	quotes := make(map[string]decimal.Decimal)
	if oracle == nil || len(holdings) == 0 {
		return quotes
	}

	symbols := make(map[string]struct{})
	for _, h := range holdings {
		symbols[pricing.NormalizeSymbol(h.Symbol)] = struct{}{}
	}

	logger := logging.FromContext(ctx)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(priceLookupConcurrency)

	for symbol := range symbols {
		g.Go(func() error {
			price, ok, err := oracle.GetPrice(ctx, symbol)
			if err != nil {
				logger.WithField("symbol", symbol).WithError(err).Warn("Price lookup failed, using fallback price")
				return nil
			}
			if !ok || !price.IsPositive() {
				return nil
			}
			mu.Lock()
			quotes[symbol] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return quotes
}
