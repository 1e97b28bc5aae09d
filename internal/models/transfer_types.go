package models

import (
	"database/sql"
	"time"
)

// Transfer ledger statuses. "retained" marks the platform's own share,
// which never leaves the settlement account.
const (
	TransferStatusSent     = "sent"
	TransferStatusFailed   = "failed"
	TransferStatusDryRun   = "dry_run"
	TransferStatusRetained = "retained"
)

// TransferLedgerEntry is the model for the 'transfer_ledger' table.
// One row per recipient per invoice, so partial failures and reversals
// can be audited and retried manually.
type TransferLedgerEntry struct {
	ID               int64          `json:"id" db:"id"`
	InvoiceID        string         `json:"invoiceId" db:"invoice_id"`
	SubscriptionID   sql.NullString `json:"subscriptionId,omitempty" db:"subscription_id"`
	RecipientAccount string         `json:"recipientAccount" db:"recipient_account"`
	AmountCents      int64          `json:"amountCents" db:"amount_cents"`
	Status           string         `json:"status" db:"status"`
	ProviderError    sql.NullString `json:"providerError,omitempty" db:"provider_error"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
}
