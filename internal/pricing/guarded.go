package pricing

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	apperrors "github.com/portfolio-aggregator/internal/errors"
)

// GuardedOracle limits the call rate to an upstream oracle and stops calling
// it while its circuit breaker is open. Failures surface as PRICE_ORACLE_ERROR.
type GuardedOracle struct {
	next    Oracle
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedOracle wraps next. A nil limiter or breaker disables that guard.
func NewGuardedOracle(next Oracle, limiter *rate.Limiter, breaker *circuitbreaker.CircuitBreaker) *GuardedOracle {
	return &GuardedOracle{next: next, limiter: limiter, breaker: breaker}
}

// GetPrice implements Oracle
func (o *GuardedOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return decimal.Zero, false, apperrors.NewPriceOracleError(symbol, err)
		}
	}

	var (
		price decimal.Decimal
		ok    bool
	)
	call := func(ctx context.Context) error {
		var err error
		price, ok, err = o.next.GetPrice(ctx, symbol)
		return err
	}

	var err error
	if o.breaker != nil {
		err = o.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return decimal.Zero, false, apperrors.NewPriceOracleError(symbol, err)
	}
	return price, ok, nil
}
