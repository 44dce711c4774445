package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79/webhook"
	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/services"
)

const maxStripePayloadBytes = 65536

type StripeWebhookHandler struct {
	billing *services.BillingService
	secret  string
}

func NewStripeWebhookHandler(billing *services.BillingService, webhookSecret string) *StripeWebhookHandler {
	return &StripeWebhookHandler{billing: billing, secret: webhookSecret}
}

// HandleStripeWebhook godoc
// @Summary     Stripe webhook endpoint
// @Description Receives signed billing events. Unsigned or tampered payloads are rejected before any side effect.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature header string true "Stripe signature"
// @Success     200 {object} map[string]string "status"
// @Failure     400 {object} models.ErrorResponse
// @Router      /api/v1/webhooks/stripe [post]
func (h *StripeWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues("stripe").Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxStripePayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read request body", Message: err.Error()})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("stripe", "unknown", "invalid_signature").Inc()
		log.Warn().Err(err).Msg("Rejected Stripe webhook with invalid signature")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid signature"})
		return
	}

	eventType := string(event.Type)
	if err := h.billing.HandleEvent(c.Request.Context(), event); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("stripe", eventType, "error").Inc()
		log.Error().Err(err).Str("event_id", event.ID).Str("event_type", eventType).Msg("Failed to handle Stripe event")
		// Non-2xx makes Stripe redeliver; ledger credits are idempotent per reference.
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to process event"})
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues("stripe", eventType, "processed").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}
