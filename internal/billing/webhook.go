// Package billing processes Stripe webhook events that drive license
// status changes, such as suspending a merchant's licenses when their
// subscription is cancelled.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/license"
	"embpay-license-server/internal/logging"
)

// Config holds billing webhook configuration
type Config struct {
	WebhookSecret string
}

// ErrInvalidSignature is returned when the webhook signature does not match
var ErrInvalidSignature = fmt.Errorf("invalid webhook signature")

// Service processes billing webhook events
type Service struct {
	webhookSecret string
	licenses      *license.Service
	repo          *database.Repository
	audit         *audit.Logger
	events        *events.EventBus
	logger        *logging.Logger
}

// NewService creates the billing webhook service
func NewService(config Config, licenses *license.Service, repo *database.Repository, auditLog *audit.Logger, bus *events.EventBus) *Service {
	return &Service{
		webhookSecret: config.WebhookSecret,
		licenses:      licenses,
		repo:          repo,
		audit:         auditLog,
		events:        bus,
		logger:        logging.Default().WithComponent("billing"),
	}
}

// IsConfigured returns true when a webhook secret is set
func (s *Service) IsConfigured() bool {
	return s.webhookSecret != ""
}

// WebhookEvent represents a Stripe webhook event envelope
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Created int64           `json:"created"`
}

// webhookObject represents the object wrapper in a webhook event
type webhookObject struct {
	Object json.RawMessage `json:"object"`
}

// HandleWebhook verifies and processes a Stripe webhook payload.
// ErrInvalidSignature maps to 400 at the HTTP layer; any other error is a
// processing failure Stripe should retry.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.verifySignature(payload, signature) {
		return ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse webhook event: %w", err)
	}

	logging.WebhookContext(event.Type, event.ID).Info("processing billing webhook")

	s.events.Publish(events.Event{
		Type: events.EventWebhookReceived,
		Data: map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		},
	})

	switch event.Type {
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event.Data)
	case "invoice.payment_failed":
		return s.handlePaymentFailed(ctx, event.Data)
	default:
		s.logger.WithField("event_type", event.Type).Debug("unhandled webhook event type")
	}

	return nil
}

// handleSubscriptionDeleted suspends every active license owned by the
// customer whose subscription ended. Suspension keeps the keys recoverable
// if the merchant resubscribes; revocation stays an admin decision.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, data json.RawMessage) error {
	var obj webhookObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to parse webhook object: %w", err)
	}

	var sub struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(obj.Object, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription object: %w", err)
	}

	user, err := s.repo.GetUserByStripeCustomerID(ctx, sub.Customer)
	if err != nil {
		return fmt.Errorf("failed to look up customer %s: %w", sub.Customer, err)
	}
	if user == nil {
		s.logger.WithField("customer_id", sub.Customer).
			Warn("subscription cancelled for unknown customer")
		return nil
	}

	count, err := s.licenses.HandleSubscriptionCancelled(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to suspend licenses for user %s: %w", user.ID, err)
	}

	s.logger.WithField("user_id", user.ID).
		WithField("subscription_id", sub.ID).
		WithField("suspended", count).
		Info("subscription cancelled, licenses suspended")
	return nil
}

// handlePaymentFailed records the failure in the audit trail without
// touching license status.
// TODO: suspend after repeated failures once the dunning window is decided.
func (s *Service) handlePaymentFailed(ctx context.Context, data json.RawMessage) error {
	var obj webhookObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to parse webhook object: %w", err)
	}

	var invoice struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
	}
	if err := json.Unmarshal(obj.Object, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice object: %w", err)
	}

	details := map[string]interface{}{
		"invoice_id":  invoice.ID,
		"customer_id": invoice.Customer,
	}
	targetID := invoice.Customer
	user, err := s.repo.GetUserByStripeCustomerID(ctx, invoice.Customer)
	if err == nil && user != nil {
		details["user_id"] = user.ID
		targetID = user.ID
	}

	s.audit.Record(ctx, audit.Entry{
		AdminID:    audit.SystemActorID,
		AdminEmail: audit.SystemActorEmail,
		Action:     audit.ActionSubscriptionPaymentFailed,
		TargetType: "user",
		TargetID:   targetID,
		Details:    details,
	})

	s.logger.WithField("invoice_id", invoice.ID).
		WithField("customer_id", invoice.Customer).
		Warn("invoice payment failed")
	return nil
}

// verifySignature checks the Stripe-Signature header against the payload.
// The header carries a timestamp and one or more v1 HMAC-SHA256 signatures
// over "timestamp.payload".
func (s *Service) verifySignature(payload []byte, signatureHeader string) bool {
	if s.webhookSecret == "" {
		return true // Skip verification if no secret configured (dev mode)
	}

	parts := strings.Split(signatureHeader, ",")
	var timestamp string
	var signatures []string

	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	signedPayload := timestamp + "." + string(payload)
	h := hmac.New(sha256.New, []byte(s.webhookSecret))
	h.Write([]byte(signedPayload))
	expectedSig := hex.EncodeToString(h.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expectedSig)) {
			return true
		}
	}

	return false
}
