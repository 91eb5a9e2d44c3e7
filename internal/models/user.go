// Package models provides data models for the portfolio aggregator.
package models

import "time"

// User represents an account owner. Users are created by the identity layer;
// this system only reads them and upserts on first sight.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
