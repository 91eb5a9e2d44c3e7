package aggregator

import (
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/types"
)

// Registry maps providers to aggregator variants
type Registry struct {
	broker Aggregator
	bank   Aggregator
}

// NewRegistry creates a registry over the given broker and bank variants
func NewRegistry(broker, bank Aggregator) *Registry {
	return &Registry{broker: broker, bank: bank}
}

// NewMockRegistry creates a registry backed by the deterministic demo aggregators
func NewMockRegistry(seed int64, clock Clock) *Registry {
	return NewRegistry(NewBrokerAggregator(seed, clock), NewBankAggregator(seed, clock))
}

// Resolve returns the aggregator for a provider. Providers without a variant,
// including manual accounts, are rejected with UNSUPPORTED_PROVIDER.
func (r *Registry) Resolve(provider types.Provider) (Aggregator, error) {
	switch provider.AccountType() {
	case types.AccountTypeBrokerage:
		if r.broker != nil {
			return r.broker, nil
		}
	case types.AccountTypeBank:
		if r.bank != nil {
			return r.bank, nil
		}
	}
	catErr := apperrors.NewUnsupportedProviderError(string(provider))
	catErr.Details["supported"] = types.AggregatedProviders()
	return nil, catErr
}
