package license

import (
	"context"
	"fmt"
	"time"

	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
)

// Lifecycle actions accepted by Transition
const (
	ActionRevoke     = "revoke"
	ActionSuspend    = "suspend"
	ActionReactivate = "reactivate"
)

// transitionRule describes one admin action: which source statuses it
// accepts and which status it produces. Expiry is not a transition; it is
// derived from expires_at at read time and never stored.
type transitionRule struct {
	from      map[string]bool
	to        string
	eventType events.EventType
	auditName string
}

var transitions = map[string]transitionRule{
	ActionRevoke: {
		from:      map[string]bool{database.StatusActive: true, database.StatusSuspended: true},
		to:        database.StatusRevoked,
		eventType: events.EventLicenseRevoked,
		auditName: audit.ActionLicenseRevoke,
	},
	ActionSuspend: {
		from:      map[string]bool{database.StatusActive: true},
		to:        database.StatusSuspended,
		eventType: events.EventLicenseSuspended,
		auditName: audit.ActionLicenseSuspend,
	},
	ActionReactivate: {
		from:      map[string]bool{database.StatusSuspended: true, database.StatusRevoked: true},
		to:        database.StatusActive,
		eventType: events.EventLicenseReactivated,
		auditName: audit.ActionLicenseReactivate,
	},
}

// TransitionError reports a lifecycle action applied to a license whose
// current status does not allow it
type TransitionError struct {
	Action string
	From   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s license", e.Action, e.From)
}

// Code returns the wire error code for the rejected transition
func (e TransitionError) Code() string {
	return "invalid_transition"
}

// Transition applies an admin lifecycle action to a license. Re-applying
// an action whose target status already holds is an idempotent no-op, so
// a retried revoke never fails.
func (s *Service) Transition(ctx context.Context, licenseID, action, reason string, actor Actor) (*database.License, error) {
	rule, ok := transitions[action]
	if !ok {
		return nil, ErrInvalidTransition
	}

	lic, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, s.storeErr("transition lookup", err)
	}
	if lic == nil {
		return nil, ErrNotFound
	}

	if lic.Status == rule.to {
		return lic, nil
	}
	if !rule.from[lic.Status] {
		return nil, TransitionError{Action: action, From: lic.Status}
	}

	// Suspend and revoke both record the operator's reason; reactivate
	// clears it. The timestamp is revoke-only.
	var revokedReason *string
	var revokedAt *time.Time
	if reason != "" && rule.to != database.StatusActive {
		revokedReason = &reason
	}
	if rule.to == database.StatusRevoked {
		now := s.now()
		revokedAt = &now
	}

	if err := s.store.UpdateLicenseStatus(ctx, lic.ID, rule.to, revokedReason, revokedAt); err != nil {
		if err == database.ErrLicenseNotFound {
			return nil, ErrNotFound
		}
		return nil, s.storeErr("transition update", err)
	}
	lic.Status = rule.to
	lic.RevokedReason = revokedReason
	lic.RevokedAt = revokedAt

	// Revocation is terminal for held slots: cut loose every machine so a
	// later reactivate starts from a clean ledger.
	if rule.to == database.StatusRevoked {
		released, derr := s.store.DeactivateAllForLicense(ctx, lic.ID)
		if derr != nil {
			s.logger.WithError(derr).
				WithField("license_id", lic.ID).
				Error("failed to release activations after revoke")
		} else if released > 0 {
			s.logger.WithField("license_id", lic.ID).
				WithField("released", released).
				Info("released activations after revoke")
		}
	}

	s.audit.Record(ctx, audit.Entry{
		AdminID:    actor.ID,
		AdminEmail: actor.Email,
		Action:     rule.auditName,
		TargetType: "license",
		TargetID:   lic.ID,
		IPAddress:  actor.IPAddress,
		Details: map[string]interface{}{
			"key":    MaskKey(lic.Key),
			"reason": reason,
		},
	})

	s.events.PublishLicenseStatusChanged(rule.eventType, lic.ID, MaskKey(lic.Key), lic.Status, reason)

	s.logger.WithField("license_id", lic.ID).
		WithField("action", action).
		WithField("status", lic.Status).
		Info("license status changed")

	return lic, nil
}

// HandleSubscriptionCancelled suspends every active license owned by the
// given user, recording the change under the system actor. Billing webhooks
// call this; the admin surface uses Transition directly.
func (s *Service) HandleSubscriptionCancelled(ctx context.Context, ownerUserID string) (int, error) {
	suspended, err := s.store.SuspendLicensesForOwner(ctx, ownerUserID, "subscription_cancelled")
	if err != nil {
		return 0, s.storeErr("suspend for owner", err)
	}

	for i := range suspended {
		lic := &suspended[i]
		s.audit.Record(ctx, audit.Entry{
			AdminID:    audit.SystemActorID,
			AdminEmail: audit.SystemActorEmail,
			Action:     audit.ActionSubscriptionCancelled,
			TargetType: "license",
			TargetID:   lic.ID,
			Details: map[string]interface{}{
				"key":           MaskKey(lic.Key),
				"owner_user_id": ownerUserID,
			},
		})
		s.events.PublishLicenseStatusChanged(events.EventLicenseSuspended, lic.ID, MaskKey(lic.Key), database.StatusSuspended, "subscription_cancelled")
	}

	if len(suspended) > 0 {
		s.logger.WithField("owner_user_id", ownerUserID).
			WithField("count", len(suspended)).
			Info("suspended licenses after subscription cancellation")
	}
	return len(suspended), nil
}
