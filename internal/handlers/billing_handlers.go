package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumora-ai/lumora-golang/internal/billing"
	"github.com/lumora-ai/lumora-golang/internal/plans"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
)

//
// --- Billing Handlers (Stripe Checkout & Portal) ---
//

type CreateCheckoutInput struct {
	PlanName string `json:"planName" binding:"required"`
}

// CreateCheckoutSession is the handler for POST /v1/billing/checkout.
// It starts a subscription checkout for one of the paid plans. One-time
// credit packs are sold through Payment Links instead and arrive only
// as webhooks, so there is no handler for them here.
func (h *Handlers) CreateCheckoutSession(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	// 1. --- Bind & Validate JSON ---
	var input CreateCheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !plans.IsKnown(input.PlanName) || input.PlanName == plans.FreePlanName {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("'%s' is not a purchasable plan", input.PlanName)})
		return
	}

	priceID := h.Billing.PriceIDs[input.PlanName]
	if priceID == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("No price configured for the '%s' plan", input.PlanName)})
		return
	}

	// 2. --- Find or Create the Stripe Customer ---
	customerID, err := billing.EnsureCustomer(h.DB, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare billing account"})
		return
	}

	// 3. --- Create the Checkout Session ---
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(h.Billing.FrontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(h.Billing.FrontendURL + "/pricing"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id":   fmt.Sprintf("%d", userID),
				"plan_name": input.PlanName,
			},
		},
	}

	sess, err := session.New(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// CreateBillingPortal is the handler for POST /v1/billing/portal.
// It hands the user to Stripe's hosted portal to manage or cancel
// their subscription; the resulting changes come back as webhooks.
func (h *Handlers) CreateBillingPortal(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	customerID, err := billing.EnsureCustomer(h.DB, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load billing account"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(h.Billing.FrontendURL + "/account"),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create billing portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}
