// Package audit writes the admin audit trail. Writes are best-effort:
// a failed audit insert is logged and swallowed so it can never roll back
// the mutation it describes.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"embpay-license-server/internal/database"

	"github.com/rs/zerolog"
)

// Audit actions recorded by the license core
const (
	ActionLicenseIssue      = "license.issue"
	ActionLicenseRevoke     = "license.revoke"
	ActionLicenseSuspend    = "license.suspend"
	ActionLicenseReactivate = "license.reactivate"

	ActionSubscriptionCancelled     = "subscription.cancelled"
	ActionSubscriptionPaymentFailed = "subscription.payment_failed"
)

// System actor identity for webhook-driven mutations
const (
	SystemActorID    = "system"
	SystemActorEmail = "system@embpay.local"
)

// Sink persists audit entries. *database.Repository satisfies it.
type Sink interface {
	InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error
}

// Entry is one audit record before persistence
type Entry struct {
	AdminID    string
	AdminEmail string
	Action     string
	TargetType string
	TargetID   string
	Details    map[string]interface{}
	IPAddress  string
}

// Logger records audit entries to the sink
type Logger struct {
	sink Sink
	log  zerolog.Logger
}

// New creates an audit logger over the given sink
func New(sink Sink) *Logger {
	return &Logger{
		sink: sink,
		log: zerolog.New(os.Stderr).With().
			Timestamp().
			Str("component", "audit").
			Logger(),
	}
}

// Record persists an audit entry. Failures are logged, never returned.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	row := &database.AuditLogEntry{
		AdminID:    entry.AdminID,
		AdminEmail: entry.AdminEmail,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		IPAddress:  entry.IPAddress,
	}

	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			l.log.Warn().Err(err).
				Str("action", entry.Action).
				Msg("failed to marshal audit details, recording without them")
		} else {
			row.Details = string(data)
		}
	}

	// Detached from the request context so a client disconnect does not
	// drop the entry; bounded so a slow store cannot stall the caller.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := l.sink.InsertAuditLog(writeCtx, row); err != nil {
		l.log.Error().Err(err).
			Str("action", entry.Action).
			Str("target_type", entry.TargetType).
			Str("target_id", entry.TargetID).
			Msg("failed to write audit log entry")
		return
	}

	l.log.Debug().
		Str("action", entry.Action).
		Str("target_id", entry.TargetID).
		Msg("audit entry recorded")
}
