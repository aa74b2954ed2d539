package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const licenseColumns = `id, key, product_id, product_name, order_id, owner_user_id,
	customer_email, customer_name, status, max_activations, expires_at,
	revoked_reason, revoked_at, last_verified_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*License, error) {
	var l License
	err := row.Scan(
		&l.ID,
		&l.Key,
		&l.ProductID,
		&l.ProductName,
		&l.OrderID,
		&l.OwnerUserID,
		&l.CustomerEmail,
		&l.CustomerName,
		&l.Status,
		&l.MaxActivations,
		&l.ExpiresAt,
		&l.RevokedReason,
		&l.RevokedAt,
		&l.LastVerifiedAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLicense inserts a new license. Returns ErrDuplicateKey when the
// generated key collides so the caller can regenerate and retry, and
// ErrDuplicateOrder when the order already has a license, in which case
// regenerating keys would never succeed.
func (r *Repository) CreateLicense(ctx context.Context, license *License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}
	license.CreatedAt = time.Now()
	license.UpdatedAt = license.CreatedAt

	query := `
	INSERT INTO licenses (id, key, product_id, product_name, order_id, owner_user_id,
		customer_email, customer_name, status, max_activations, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		license.ID,
		license.Key,
		license.ProductID,
		license.ProductName,
		license.OrderID,
		license.OwnerUserID,
		license.CustomerEmail,
		license.CustomerName,
		license.Status,
		license.MaxActivations,
		license.ExpiresAt,
		license.CreatedAt,
		license.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "order_id") {
			return ErrDuplicateOrder
		}
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

// GetLicenseByKey retrieves a license by its customer-facing key.
// This is the hot path for every verification call; licenses.key is unique
// and indexed so the lookup is a point read.
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE key = $1`, licenseColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by key: %w", err)
	}

	return license, nil
}

// GetLicenseByID retrieves a license by ID
func (r *Repository) GetLicenseByID(ctx context.Context, id string) (*License, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE id = $1`, licenseColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by id: %w", err)
	}

	return license, nil
}

// GetLicenseByOrderID retrieves a license by the originating order, used to
// keep issuance idempotent per order.
func (r *Repository) GetLicenseByOrderID(ctx context.Context, orderID string) (*License, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE order_id = $1`, licenseColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, orderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by order id: %w", err)
	}

	return license, nil
}

// LicenseFilter holds list filters for the admin surface
type LicenseFilter struct {
	Search string // matches key, customer email, customer name, product name
	Status string
	Limit  int
	Offset int
}

// ListLicenses retrieves licenses with filtering and pagination, newest
// first, including the live activation count per license.
func (r *Repository) ListLicenses(ctx context.Context, filter LicenseFilter) ([]License, int, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.Search != "" {
		whereClause += fmt.Sprintf(
			" AND (key ILIKE $%d OR customer_email ILIKE $%d OR customer_name ILIKE $%d OR product_name ILIKE $%d)",
			argNum, argNum, argNum, argNum)
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	if filter.Status != "" {
		whereClause += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM licenses %s", whereClause)
	var total int
	err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	query := fmt.Sprintf(`
	SELECT %s,
	       (SELECT COUNT(*) FROM license_activations a WHERE a.license_id = licenses.id AND a.is_active) AS active_activations
	FROM licenses
	%s
	ORDER BY created_at DESC
	LIMIT $%d OFFSET $%d
	`, licenseColumns, whereClause, argNum, argNum+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		var l License
		err := rows.Scan(
			&l.ID,
			&l.Key,
			&l.ProductID,
			&l.ProductName,
			&l.OrderID,
			&l.OwnerUserID,
			&l.CustomerEmail,
			&l.CustomerName,
			&l.Status,
			&l.MaxActivations,
			&l.ExpiresAt,
			&l.RevokedReason,
			&l.RevokedAt,
			&l.LastVerifiedAt,
			&l.CreatedAt,
			&l.UpdatedAt,
			&l.ActiveActivations,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan license: %w", err)
		}

		licenses = append(licenses, l)
	}

	return licenses, total, nil
}

// UpdateLicenseStatus applies a lifecycle transition. The caller computes
// revoked_reason and revoked_at per the transition rules; this method only
// persists them. Returns ErrLicenseNotFound when the license does not exist.
func (r *Repository) UpdateLicenseStatus(ctx context.Context, id, status string, reason *string, revokedAt *time.Time) error {
	query := `
	UPDATE licenses
	SET status = $2, revoked_reason = $3, revoked_at = $4, updated_at = NOW()
	WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, status, reason, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to update license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLicenseNotFound
	}

	return nil
}

// TouchLicenseVerified records a successful verification
func (r *Repository) TouchLicenseVerified(ctx context.Context, id string) error {
	query := `UPDATE licenses SET last_verified_at = NOW() WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch license: %w", err)
	}
	return nil
}

// SuspendLicensesForOwner suspends every active license owned by the given
// merchant, returning the affected licenses. Used by the billing webhook
// path when a subscription is cancelled.
func (r *Repository) SuspendLicensesForOwner(ctx context.Context, ownerUserID, reason string) ([]License, error) {
	query := fmt.Sprintf(`
	UPDATE licenses
	SET status = $2, revoked_reason = $3, updated_at = NOW()
	WHERE owner_user_id = $1 AND status = $4
	RETURNING %s
	`, licenseColumns)

	rows, err := r.db.Pool.Query(ctx, query, ownerUserID, StatusSuspended, reason, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to suspend licenses for owner: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suspended license: %w", err)
		}
		licenses = append(licenses, *l)
	}

	return licenses, nil
}

// GetLicenseStats returns dashboard statistics
func (r *Repository) GetLicenseStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	query := `
	SELECT status, COUNT(*) as count
	FROM licenses
	GROUP BY status
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get license stats by status: %w", err)
	}
	defer rows.Close()

	byStatus := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		byStatus[status] = count
	}
	stats["by_status"] = byStatus

	var total int
	err = r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM licenses").Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to get total: %w", err)
	}
	stats["total"] = total

	var activeActivations int
	err = r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM license_activations WHERE is_active = true",
	).Scan(&activeActivations)
	if err != nil {
		return nil, fmt.Errorf("failed to get active activations: %w", err)
	}
	stats["active_activations"] = activeActivations

	var recentActivations int
	err = r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM license_activations WHERE created_at > NOW() - INTERVAL '7 days'",
	).Scan(&recentActivations)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent activations: %w", err)
	}
	stats["recent_activations"] = recentActivations

	return stats, nil
}
