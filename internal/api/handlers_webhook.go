package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"embpay-license-server/internal/billing"
)

// maxWebhookBodySize bounds webhook payloads (Stripe events are small)
const maxWebhookBodySize = 1 << 20

// handleStripeWebhook handles POST /api/webhooks/stripe. A bad signature
// is a 400; processing failures return 500 so Stripe retries delivery.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_payload", "failed to read webhook body")
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	if err := s.billingService.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			errorResponse(c, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
			return
		}
		s.logger.WithError(err).Error("webhook processing failed")
		errorResponse(c, http.StatusInternalServerError, "internal_error", "webhook processing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
