package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const activationColumns = `id, license_id, machine_id, machine_name, is_active,
	ip_address, user_agent, created_at, last_seen_at, deactivated_at`

func scanActivation(row pgx.Row) (*Activation, error) {
	var a Activation
	err := row.Scan(
		&a.ID,
		&a.LicenseID,
		&a.MachineID,
		&a.MachineName,
		&a.IsActive,
		&a.IPAddress,
		&a.UserAgent,
		&a.CreatedAt,
		&a.LastSeenAt,
		&a.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountActiveActivations returns the number of consumed slots for a license
func (r *Repository) CountActiveActivations(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM license_activations WHERE license_id = $1 AND is_active = true`,
		licenseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active activations: %w", err)
	}
	return count, nil
}

// FindActivation retrieves the active activation for a (license, machine)
// pair, or nil when the machine holds no slot.
func (r *Repository) FindActivation(ctx context.Context, licenseID, machineID string) (*Activation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM license_activations WHERE license_id = $1 AND machine_id = $2 AND is_active = true`,
		activationColumns)

	activation, err := scanActivation(r.db.Pool.QueryRow(ctx, query, licenseID, machineID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find activation: %w", err)
	}

	return activation, nil
}

// ListActivations returns all activations for a license, active and
// historical, newest first.
func (r *Repository) ListActivations(ctx context.Context, licenseID string) ([]Activation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM license_activations WHERE license_id = $1 ORDER BY created_at DESC`,
		activationColumns)

	rows, err := r.db.Pool.Query(ctx, query, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var activations []Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		activations = append(activations, *a)
	}

	return activations, nil
}

// TryActivate consumes an activation slot for the machine, or returns the
// existing activation unchanged when the machine already holds one.
//
// The whole check-then-insert runs inside one transaction that takes a row
// lock on the license (SELECT ... FOR UPDATE), so concurrent activation
// attempts for the same key serialize: the active count can never exceed
// max_activations even across multiple server instances. The partial unique
// index on (license_id, machine_id) WHERE is_active backstops the
// per-machine idempotence at the storage level.
//
// Returns (activation, created, error); created is false on the idempotent
// path. Errors: ErrLicenseNotFound, ErrActivationLimitReached.
func (r *Repository) TryActivate(ctx context.Context, licenseID, machineID, machineName, ipAddress, userAgent string) (*Activation, bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the license row. All activation slot accounting for this key
	// happens under this lock.
	var maxActivations int
	var status string
	err = tx.QueryRow(ctx,
		`SELECT max_activations, status FROM licenses WHERE id = $1 FOR UPDATE`,
		licenseID,
	).Scan(&maxActivations, &status)
	if err == pgx.ErrNoRows {
		return nil, false, ErrLicenseNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock license row: %w", err)
	}

	// The caller gates on status before calling, but an admin revoke can
	// land between that read and this lock. Re-check under the lock so a
	// revoked license never gains a live slot.
	if status != StatusActive {
		return nil, false, ErrLicenseNotActive
	}

	// Idempotent path: the machine already holds an active slot. Refresh
	// last_seen_at and the caller IP, consume nothing.
	query := fmt.Sprintf(
		`SELECT %s FROM license_activations WHERE license_id = $1 AND machine_id = $2 AND is_active = true`,
		activationColumns)
	existing, err := scanActivation(tx.QueryRow(ctx, query, licenseID, machineID))
	if err != nil && err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("failed to check existing activation: %w", err)
	}
	if existing != nil {
		now := time.Now()
		_, err = tx.Exec(ctx,
			`UPDATE license_activations SET last_seen_at = $2, ip_address = $3 WHERE id = $1`,
			existing.ID, now, ipAddress,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to refresh activation: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit activation refresh: %w", err)
		}
		existing.LastSeenAt = &now
		existing.IPAddress = ipAddress
		return existing, false, nil
	}

	var activeCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM license_activations WHERE license_id = $1 AND is_active = true`,
		licenseID,
	).Scan(&activeCount)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count activations: %w", err)
	}

	if activeCount >= maxActivations {
		return nil, false, ErrActivationLimitReached
	}

	activation := &Activation{
		ID:          uuid.New().String(),
		LicenseID:   licenseID,
		MachineID:   machineID,
		MachineName: machineName,
		IsActive:    true,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		CreatedAt:   time.Now(),
	}

	_, err = tx.Exec(ctx, `
	INSERT INTO license_activations (id, license_id, machine_id, machine_name, is_active, ip_address, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		activation.ID,
		activation.LicenseID,
		activation.MachineID,
		activation.MachineName,
		activation.IsActive,
		activation.IPAddress,
		activation.UserAgent,
		activation.CreatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Unreachable while the license row lock is held, but the unique
		// index is the authority: treat as the idempotent path.
		return nil, false, ErrDuplicateMachine
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert activation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit activation: %w", err)
	}

	return activation, true, nil
}

// DeactivateMachine releases the machine's slot. Returns whether a slot was
// actually released; deactivating an unknown or already-inactive machine is
// not an error.
func (r *Repository) DeactivateMachine(ctx context.Context, licenseID, machineID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
	UPDATE license_activations
	SET is_active = false, deactivated_at = NOW()
	WHERE license_id = $1 AND machine_id = $2 AND is_active = true
	`, licenseID, machineID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate machine: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeactivateAllForLicense releases every active slot for a license. Used on
// revoke; rows are kept for the audit trail.
func (r *Repository) DeactivateAllForLicense(ctx context.Context, licenseID string) (int, error) {
	tag, err := r.db.Pool.Exec(ctx, `
	UPDATE license_activations
	SET is_active = false, deactivated_at = NOW()
	WHERE license_id = $1 AND is_active = true
	`, licenseID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate activations: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
