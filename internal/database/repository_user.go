package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new user account
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()

	query := `
	INSERT INTO users (id, email, password_hash, name, role, stripe_customer_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.StripeCustomerID,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByEmail retrieves a user by email
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
	SELECT id, email, password_hash, name, role, stripe_customer_id, created_at, last_login_at
	FROM users
	WHERE email = $1
	`

	var user User
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `
	SELECT id, email, password_hash, name, role, stripe_customer_id, created_at, last_login_at
	FROM users
	WHERE id = $1
	`

	var user User
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return &user, nil
}

// GetUserByStripeCustomerID retrieves a user by their Stripe customer ID
func (r *Repository) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	query := `
	SELECT id, email, password_hash, name, role, stripe_customer_id, created_at, last_login_at
	FROM users
	WHERE stripe_customer_id = $1
	`

	var user User
	err := r.db.Pool.QueryRow(ctx, query, customerID).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by stripe customer id: %w", err)
	}

	return &user, nil
}

// UpdateUserStripeCustomerID links a user to a Stripe customer
func (r *Repository) UpdateUserStripeCustomerID(ctx context.Context, id, customerID string) error {
	query := `UPDATE users SET stripe_customer_id = $2 WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id, customerID)
	if err != nil {
		return fmt.Errorf("failed to update stripe customer id: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash
func (r *Repository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update user password: %w", err)
	}
	return nil
}

// UpdateUserLastLogin records a successful login
func (r *Repository) UpdateUserLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}
