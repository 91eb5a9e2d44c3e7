// Package types provides common type definitions for the portfolio aggregator.
package types

import "strings"

// Provider identifies the upstream source of an account
type Provider string

const (
	// ProviderRobinhood is a brokerage provider
	ProviderRobinhood Provider = "robinhood"
	// ProviderSchwab is a brokerage provider
	ProviderSchwab Provider = "schwab"
	// ProviderPlaid is a bank aggregation provider
	ProviderPlaid Provider = "plaid"
	// ProviderAkoya is a bank aggregation provider
	ProviderAkoya Provider = "akoya"
	// ProviderManual marks user-maintained accounts with no upstream
	ProviderManual Provider = "manual"
)

// AccountType is the account class derived from the provider
type AccountType string

const (
	AccountTypeBrokerage AccountType = "brokerage"
	AccountTypeBank      AccountType = "bank"
	AccountTypeManual    AccountType = "manual"
	AccountTypeUnknown   AccountType = "unknown"
)

// ParseProvider normalizes a provider name. Unknown names are returned as-is so
// callers can reject them with a meaningful message.
func ParseProvider(s string) Provider {
	return Provider(strings.ToLower(strings.TrimSpace(s)))
}

// AccountType returns the account class for the provider
func (p Provider) AccountType() AccountType {
	switch p {
	case ProviderRobinhood, ProviderSchwab:
		return AccountTypeBrokerage
	case ProviderPlaid, ProviderAkoya:
		return AccountTypeBank
	case ProviderManual:
		return AccountTypeManual
	default:
		return AccountTypeUnknown
	}
}

// IsAggregated reports whether the provider is backed by an aggregator
func (p Provider) IsAggregated() bool {
	t := p.AccountType()
	return t == AccountTypeBrokerage || t == AccountTypeBank
}

// AggregatedProviders lists every provider that can be linked
func AggregatedProviders() []Provider {
	return []Provider{ProviderRobinhood, ProviderSchwab, ProviderPlaid, ProviderAkoya}
}

// TransactionType is the kind of a canonical transaction
type TransactionType string

const (
	TransactionBuy        TransactionType = "buy"
	TransactionSell       TransactionType = "sell"
	TransactionDividend   TransactionType = "dividend"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// ParseTransactionType parses a transaction type, case-insensitively
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TransactionBuy, TransactionSell, TransactionDividend, TransactionDeposit, TransactionWithdrawal:
		return t, true
	default:
		return "", false
	}
}

// IsSecurityTrade reports whether the type carries symbol, quantity and price
func (t TransactionType) IsSecurityTrade() bool {
	return t == TransactionBuy || t == TransactionSell || t == TransactionDividend
}

// SnapshotTarget is what a portfolio snapshot values
type SnapshotTarget string

const (
	SnapshotTargetAccount SnapshotTarget = "account"
	SnapshotTargetUser    SnapshotTarget = "user"
)

// LinkStatus is returned once an account has been linked
const LinkStatusLinked = "linked"

// CashSymbol is the symbol used for bank cash balances
const CashSymbol = "USD"
