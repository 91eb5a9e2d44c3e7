package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// Account is an external financial account linked to a user
type Account struct {
	ID                string            `json:"id" db:"id"`
	UserID            string            `json:"userId" db:"user_id"`
	Provider          types.Provider    `json:"provider" db:"provider"`
	AccountType       types.AccountType `json:"accountType" db:"account_type"`
	ProviderAccountID string            `json:"providerAccountId" db:"provider_account_id"`
	Name              string            `json:"name" db:"name"`
	AccessToken       string            `json:"-" db:"access_token"`
	LastSync          *time.Time        `json:"lastSync,omitempty" db:"last_sync"`
	CreatedAt         time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time         `json:"updatedAt" db:"updated_at"`
}

// IsAggregated reports whether the account is refreshed from a provider
func (a *Account) IsAggregated() bool {
	return a.Provider.IsAggregated()
}
