package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79/webhook"
)

// maxWebhookBodyBytes bounds the webhook payload read. Stripe events
// are small; anything larger is not one of ours.
const maxWebhookBodyBytes = 65536

// StripeWebhook is the handler for POST /v1/webhooks/stripe.
// Signature verification happens before anything else touches the
// payload; after that the reconciler owns interpretation, idempotency
// and crediting.
func (h *Handlers) StripeWebhook(c *gin.Context) {
	// 1. --- Read the Raw Body ---
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to read request body"})
		return
	}

	// 2. --- Verify the Signature ---
	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.Billing.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		log.Printf("WARNING: webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	// 3. --- Hand Off to the Reconciler ---
	// A non-2xx here makes Stripe retry the event, which is safe: every
	// event id is recorded before processing and replays are skipped.
	if err := h.Reconciler.HandleEvent(event); err != nil {
		log.Printf("ERROR: webhook %s (%s) failed: %v", event.ID, event.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
