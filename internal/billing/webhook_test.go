package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
)

type nopSink struct{}

func (nopSink) InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error {
	return nil
}

func newTestWebhookService(secret string) *Service {
	return NewService(Config{WebhookSecret: secret}, nil, nil, audit.New(nopSink{}), events.NewEventBus())
}

func signPayload(secret string, payload []byte, ts int64) string {
	signed := fmt.Sprintf("%d.%s", ts, payload)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(h.Sum(nil)))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	svc := newTestWebhookService("whsec_test")
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"garbage header", "not-a-signature"},
		{"wrong secret", signPayload("whsec_other", payload, time.Now().Unix())},
		{"missing timestamp", "v1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.HandleWebhook(context.Background(), payload, tt.header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	svc := newTestWebhookService("whsec_test")

	// An unhandled event type exercises the verify-and-parse path without
	// touching the store
	payload := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`)
	header := signPayload("whsec_test", payload, time.Now().Unix())

	if err := svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestWebhookAcceptsAnySignatureWhenUnconfigured(t *testing.T) {
	// Dev mode: no secret means no verification
	svc := newTestWebhookService("")
	payload := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`)

	if err := svc.HandleWebhook(context.Background(), payload, ""); err != nil {
		t.Errorf("unconfigured service rejected webhook: %v", err)
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	svc := newTestWebhookService("")

	err := svc.HandleWebhook(context.Background(), []byte("{not json"), "")
	if err == nil {
		t.Error("malformed payload accepted")
	}
	if errors.Is(err, ErrInvalidSignature) {
		t.Error("parse failure misreported as signature failure")
	}
}

func TestWebhookMultipleSignatures(t *testing.T) {
	// Stripe may send several v1 signatures during secret rotation; any
	// matching one must pass
	secret := "whsec_test"
	svc := newTestWebhookService(secret)
	payload := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`)

	ts := time.Now().Unix()
	signed := fmt.Sprintf("%d.%s", ts, payload)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(signed))
	good := hex.EncodeToString(h.Sum(nil))

	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", ts, "0000dead0000", good)
	if err := svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Errorf("rotation header rejected: %v", err)
	}
}
