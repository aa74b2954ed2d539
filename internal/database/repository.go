package database

import (
	"context"
	"errors"
)

// Storage-level signals surfaced to the service layer. The service maps
// them onto its public error taxonomy; they never reach API clients raw.
var (
	// ErrLicenseNotFound indicates the referenced license row does not exist
	ErrLicenseNotFound = errors.New("license not found")

	// ErrDuplicateKey indicates a unique constraint collision on licenses.key
	ErrDuplicateKey = errors.New("license key already exists")

	// ErrDuplicateOrder indicates a license already exists for the order
	ErrDuplicateOrder = errors.New("license already issued for order")

	// ErrLicenseNotActive indicates the license status changed to a
	// non-active state before the activation transaction committed
	ErrLicenseNotActive = errors.New("license is not active")

	// ErrDuplicateMachine indicates an active activation already exists for
	// the (license, machine) pair
	ErrDuplicateMachine = errors.New("machine already activated")

	// ErrActivationLimitReached indicates all activation slots are in use
	ErrActivationLimitReached = errors.New("activation limit reached")
)

// Repository provides data access over the shared connection pool
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck verifies database connectivity
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
