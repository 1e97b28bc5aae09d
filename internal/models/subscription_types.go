package models

import "time"

// Subscription statuses, driven by Stripe webhook events.
// Lifecycle: created -> active -> past_due -> canceled.
const (
	SubscriptionStatusCreated  = "created"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription defines the model for the 'subscriptions' table.
// Keyed by the Stripe subscription id so webhook upserts are idempotent.
type Subscription struct {
	StripeSubscriptionID string    `json:"stripeSubscriptionId" db:"stripe_subscription_id"`
	UserID               int64     `json:"userId" db:"user_id"`
	StripeCustomerID     string    `json:"-" db:"stripe_customer_id"`
	PlanName             string    `json:"planName" db:"plan_name"`
	Status               string    `json:"status" db:"status"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at"`
}
