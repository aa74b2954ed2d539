package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAuditLog persists an audit entry
func (r *Repository) InsertAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()

	var details interface{}
	if entry.Details != "" {
		details = entry.Details
	}

	query := `
	INSERT INTO audit_logs (id, admin_id, admin_email, action, target_type, target_id, details, ip_address, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.AdminID,
		entry.AdminEmail,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		details,
		entry.IPAddress,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// AuditFilter holds list filters for the audit trail
type AuditFilter struct {
	Action     string
	TargetType string
	TargetID   string
	Limit      int
	Offset     int
}

// ListAuditLogs retrieves audit entries with filtering, newest first
func (r *Repository) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLogEntry, int, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.Action != "" {
		whereClause += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, filter.Action)
		argNum++
	}

	if filter.TargetType != "" {
		whereClause += fmt.Sprintf(" AND target_type = $%d", argNum)
		args = append(args, filter.TargetType)
		argNum++
	}

	if filter.TargetID != "" {
		whereClause += fmt.Sprintf(" AND target_id = $%d", argNum)
		args = append(args, filter.TargetID)
		argNum++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", whereClause)
	var total int
	err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`
	SELECT id, admin_id, admin_email, action, target_type, target_id,
	       COALESCE(details::text, ''), ip_address, created_at
	FROM audit_logs
	%s
	ORDER BY created_at DESC
	LIMIT $%d OFFSET $%d
	`, whereClause, argNum, argNum+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		err := rows.Scan(
			&e.ID,
			&e.AdminID,
			&e.AdminEmail,
			&e.Action,
			&e.TargetType,
			&e.TargetID,
			&e.Details,
			&e.IPAddress,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, total, nil
}
