package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-aggregator/internal/models"
)

// ErrNotFound is returned when a row does not exist or belongs to another user
var ErrNotFound = errors.New("not found")

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Ensure inserts the user if missing. Existing rows are left untouched.
func (r *UserRepository) Ensure(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, email, is_active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.Pool().Exec(ctx, query, user.ID, user.Email, user.IsActive, user.CreatedAt); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// ListActive returns all active users ordered by creation time
func (r *UserRepository) ListActive(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT id, email, is_active, created_at
		FROM users
		WHERE is_active
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Email, &user.IsActive, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}
