// Package license implements the license lifecycle core: key issuance,
// verification, machine activation and admin status transitions.
package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/logging"
)

const maxKeyGenerationAttempts = 10

// Service is the license core. All public and admin operations go
// through it; handlers only translate HTTP to these calls.
type Service struct {
	store  Store
	audit  *audit.Logger
	events *events.EventBus
	logger *logging.Logger
	config Config
	now    func() time.Time
}

// NewService creates the license core over a store
func NewService(store Store, auditLog *audit.Logger, bus *events.EventBus, config Config) *Service {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "EMBP"
	}
	if config.DefaultMaxActivations <= 0 {
		config.DefaultMaxActivations = 1
	}
	return &Service{
		store:  store,
		audit:  auditLog,
		events: bus,
		logger: logging.Default().WithComponent("license"),
		config: config,
		now:    time.Now,
	}
}

// storeErr wraps a storage failure so callers can distinguish infrastructure
// trouble from a license-invalid outcome. A flaky database must surface as
// retryable, never as "license invalid".
func (s *Service) storeErr(op string, err error) error {
	s.logger.WithError(err).Error(fmt.Sprintf("store failure during %s", op))
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Verify checks a license key and returns its current validity. It is
// read-only apart from refreshing last_verified_at, and its result carries
// no customer contact details.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	lic, err := s.store.GetLicenseByKey(ctx, req.Key)
	if err != nil {
		return nil, s.storeErr("verify lookup", err)
	}
	if lic == nil {
		return &VerifyResult{Valid: false, Reason: "not_found"}, nil
	}

	result := &VerifyResult{}
	switch {
	case lic.Status == database.StatusSuspended:
		result.Reason = "suspended"
	case lic.Status == database.StatusRevoked:
		result.Reason = "revoked"
	case lic.Expired(s.now()):
		result.Reason = "expired"
	case req.ProductID != "" && req.ProductID != lic.ProductID:
		result.Reason = "product_mismatch"
	default:
		result.Valid = true
	}

	count, err := s.store.CountActiveActivations(ctx, lic.ID)
	if err != nil {
		return nil, s.storeErr("verify activation count", err)
	}
	result.License = s.publicInfo(lic, count)

	if result.Valid {
		// Best effort: a failed timestamp refresh must not fail the check
		if err := s.store.TouchLicenseVerified(ctx, lic.ID); err != nil {
			s.logger.WithError(err).Warn("failed to update last_verified_at")
		}
		s.events.Publish(events.Event{
			Type: events.EventLicenseVerified,
			Data: map[string]interface{}{
				"license_id": lic.ID,
				"key":        MaskKey(lic.Key),
				"machine_id": req.MachineID,
			},
		})
	}

	return result, nil
}

// Activate claims an activation slot for a machine. Re-activating a machine
// that already holds a slot succeeds without consuming another one.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	lic, err := s.store.GetLicenseByKey(ctx, req.Key)
	if err != nil {
		return nil, s.storeErr("activate lookup", err)
	}
	if lic == nil {
		return nil, ErrNotFound
	}

	if lic.Status != database.StatusActive {
		s.publishRejected(lic, req.MachineID, lic.Status)
		return nil, NotActiveError{Reason: lic.Status}
	}
	if lic.Expired(s.now()) {
		s.publishRejected(lic, req.MachineID, "expired")
		return nil, NotActiveError{Reason: "expired"}
	}

	act, created, err := s.store.TryActivate(ctx, lic.ID, req.MachineID, req.MachineName, req.IPAddress, req.UserAgent)
	switch {
	case errors.Is(err, database.ErrActivationLimitReached):
		s.publishRejected(lic, req.MachineID, "max_activations_reached")
		return nil, ErrActivationLimitReached
	case errors.Is(err, database.ErrDuplicateMachine):
		// Lost a race against the same machine activating concurrently.
		// The slot is held by this machine, so report success.
		existing, ferr := s.store.FindActivation(ctx, lic.ID, req.MachineID)
		if ferr != nil || existing == nil {
			return nil, s.storeErr("activate duplicate lookup", err)
		}
		act, created = existing, false
	case errors.Is(err, database.ErrLicenseNotActive):
		// The status changed between the gate above and the transaction,
		// typically an admin revoke racing this call. Re-read for the
		// current status.
		cur, lerr := s.store.GetLicenseByID(ctx, lic.ID)
		if lerr != nil {
			return nil, s.storeErr("activate status race", lerr)
		}
		if cur == nil {
			return nil, ErrNotFound
		}
		if cur.Status == database.StatusActive {
			return nil, s.storeErr("activate status race", err)
		}
		s.publishRejected(cur, req.MachineID, cur.Status)
		return nil, NotActiveError{Reason: cur.Status}
	case errors.Is(err, database.ErrLicenseNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, s.storeErr("activate", err)
	}

	if created {
		active, cerr := s.store.CountActiveActivations(ctx, lic.ID)
		if cerr != nil {
			active = -1
		}
		s.events.PublishMachineActivated(lic.ID, MaskKey(lic.Key), req.MachineID, active, lic.MaxActivations)
		s.logger.WithField("license_id", lic.ID).
			WithField("machine_id", req.MachineID).
			Info("machine activated")
	}

	return &ActivateResult{
		Success:    true,
		Activation: &ActivationInfo{ID: act.ID, MachineID: act.MachineID},
	}, nil
}

// Deactivate releases a machine's activation slot. Deactivating a machine
// that holds no slot is a no-op success, so clients can retry safely.
func (s *Service) Deactivate(ctx context.Context, req DeactivateRequest) error {
	lic, err := s.store.GetLicenseByKey(ctx, req.Key)
	if err != nil {
		return s.storeErr("deactivate lookup", err)
	}
	if lic == nil {
		return ErrNotFound
	}

	released, err := s.store.DeactivateMachine(ctx, lic.ID, req.MachineID)
	if err != nil {
		return s.storeErr("deactivate", err)
	}
	if released {
		s.events.PublishMachineDeactivated(lic.ID, MaskKey(lic.Key), req.MachineID)
		s.logger.WithField("license_id", lic.ID).
			WithField("machine_id", req.MachineID).
			Info("machine deactivated")
	}
	return nil
}

// Issue creates a new license. When the request names an order that already
// produced a license, that license is returned instead of minting a second
// key for the same purchase.
func (s *Service) Issue(ctx context.Context, req IssueRequest, actor Actor) (*database.License, error) {
	if req.OrderID != "" {
		existing, err := s.store.GetLicenseByOrderID(ctx, req.OrderID)
		if err != nil {
			return nil, s.storeErr("issue order lookup", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	maxActivations := req.MaxActivations
	if maxActivations <= 0 {
		maxActivations = s.config.DefaultMaxActivations
	}

	var lic *database.License
	created := false
	for attempt := 0; attempt < maxKeyGenerationAttempts && !created; attempt++ {
		key, err := GenerateKey(s.config.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to issue license: %w", err)
		}

		lic = &database.License{
			Key:            key,
			ProductID:      req.ProductID,
			ProductName:    req.ProductName,
			OwnerUserID:    req.OwnerUserID,
			CustomerEmail:  req.CustomerEmail,
			CustomerName:   req.CustomerName,
			Status:         database.StatusActive,
			MaxActivations: maxActivations,
			ExpiresAt:      req.ExpiresAt,
		}
		if req.OrderID != "" {
			lic.OrderID = &req.OrderID
		}

		err = s.store.CreateLicense(ctx, lic)
		switch {
		case errors.Is(err, database.ErrDuplicateKey):
			continue
		case errors.Is(err, database.ErrDuplicateOrder):
			// Lost a race against a concurrent issue for the same order.
			// The order's license exists now; return it instead of minting
			// a second key.
			existing, lerr := s.store.GetLicenseByOrderID(ctx, req.OrderID)
			if lerr != nil {
				return nil, s.storeErr("issue order lookup", lerr)
			}
			if existing == nil {
				return nil, s.storeErr("issue", err)
			}
			return existing, nil
		case err != nil:
			return nil, s.storeErr("issue", err)
		}
		created = true
	}
	if !created {
		return nil, fmt.Errorf("failed to issue license: key space exhausted after %d attempts", maxKeyGenerationAttempts)
	}

	s.audit.Record(ctx, audit.Entry{
		AdminID:    actor.ID,
		AdminEmail: actor.Email,
		Action:     audit.ActionLicenseIssue,
		TargetType: "license",
		TargetID:   lic.ID,
		IPAddress:  actor.IPAddress,
		Details: map[string]interface{}{
			"key":        MaskKey(lic.Key),
			"product_id": lic.ProductID,
		},
	})

	s.events.Publish(events.Event{
		Type: events.EventLicenseIssued,
		Data: map[string]interface{}{
			"license_id": lic.ID,
			"key":        MaskKey(lic.Key),
			"product_id": lic.ProductID,
		},
	})

	s.logger.WithField("license_id", lic.ID).
		WithField("key", MaskKey(lic.Key)).
		Info("license issued")

	return lic, nil
}

// GetLicense returns a license with its activation list, for admin views
func (s *Service) GetLicense(ctx context.Context, id string) (*database.License, []database.Activation, error) {
	lic, err := s.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, nil, s.storeErr("get license", err)
	}
	if lic == nil {
		return nil, nil, ErrNotFound
	}
	acts, err := s.store.ListActivations(ctx, lic.ID)
	if err != nil {
		return nil, nil, s.storeErr("list activations", err)
	}
	return lic, acts, nil
}

// ListLicenses returns a filtered page of licenses for the admin surface
func (s *Service) ListLicenses(ctx context.Context, filter database.LicenseFilter) ([]database.License, int, error) {
	items, total, err := s.store.ListLicenses(ctx, filter)
	if err != nil {
		return nil, 0, s.storeErr("list licenses", err)
	}
	return items, total, nil
}

func (s *Service) publicInfo(lic *database.License, activations int) *LicenseInfo {
	status := lic.Status
	if status == database.StatusActive && lic.Expired(s.now()) {
		status = "expired"
	}
	return &LicenseInfo{
		ID:             lic.ID,
		Status:         status,
		ProductID:      lic.ProductID,
		ProductName:    lic.ProductName,
		ExpiresAt:      lic.ExpiresAt,
		Activations:    activations,
		MaxActivations: lic.MaxActivations,
	}
}

func (s *Service) publishRejected(lic *database.License, machineID, reason string) {
	s.events.PublishActivationRejected(lic.ID, MaskKey(lic.Key), machineID, reason)
	s.logger.WithField("license_id", lic.ID).
		WithField("machine_id", machineID).
		WithField("reason", reason).
		Warn("activation rejected")
}
