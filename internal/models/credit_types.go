package models

import (
	"database/sql"
	"time"
)

// Credit transaction types. The ledger is append-only: every balance
// change is a new row, never an update to an old one.
const (
	CreditTypePurchase   = "purchase"
	CreditTypeUsage      = "usage"
	CreditTypeExpiration = "expiration"
	CreditTypeAdminGrant = "admin_grant"
)

// CreditTransaction is the model for the 'credit_transactions' table.
type CreditTransaction struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"userId" db:"user_id"`
	Type   string `json:"type" db:"type"` // purchase, usage, expiration, admin_grant

	// Credits is signed: positive for purchases and grants,
	// negative for usage.
	Credits int64 `json:"credits" db:"credits"`

	// BalanceAfter is a snapshot taken at insertion time. It is a cache
	// for display only. The authoritative balance is always the live sum
	// of non-expired credits — see ledger.GetBalance.
	BalanceAfter int64 `json:"balanceAfter" db:"balance_after"`

	Description string `json:"description" db:"description"`

	// ExternalReference carries the Stripe session/invoice id for
	// purchases. It is the idempotency key: the same reference is never
	// credited twice for the same user.
	ExternalReference sql.NullString `json:"externalReference,omitempty" db:"external_reference"`

	// ExpiresAt, when set, removes this entry from the balance sum once
	// the timestamp passes.
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"expires_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
