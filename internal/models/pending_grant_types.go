package models

import "time"

// PendingCreditGrant is the model for the 'pending_credit_grants' table.
// When a guest completes checkout before having an account, the paid
// credits are parked here keyed by email instead of being credited to a
// placeholder user. The grant is consumed exactly once when an account
// with that email registers; consumed_at is the consumption guard.
type PendingCreditGrant struct {
	ID                int64      `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	PlanLabel         string     `json:"planLabel" db:"plan_label"`
	Credits           int64      `json:"credits" db:"credits"`
	ExternalReference string     `json:"externalReference" db:"external_reference"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	ConsumedAt        *time.Time `json:"consumedAt,omitempty" db:"consumed_at"`
	ConsumedByUserID  *int64     `json:"consumedByUserId,omitempty" db:"consumed_by_user_id"`
}
