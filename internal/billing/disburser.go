package billing

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lumora-ai/lumora-golang/internal/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/transfer"
)

//
// --- Split Payment Disburser ---
//

// Revenue split, in percent of the net invoice amount. Partners A and B
// receive transfers to their connected accounts; the platform share
// stays in our settlement account and needs no transfer.
const (
	partnerASharePct = 46
	partnerBSharePct = 46
	platformSharePct = 8
)

// Stripe's processing fee: 2.9% of gross plus a 30 cent fixed fee.
const (
	stripeFeePct        = 0.029
	stripeFeeFixedCents = 30
)

// TransferFunc issues one Stripe transfer. Declared as a type so tests
// can substitute a fake; production uses transfer.New.
type TransferFunc func(params *stripe.TransferParams) (*stripe.Transfer, error)

// Share is one recipient's cut of a disbursed invoice.
type Share struct {
	Account     string
	AmountCents int64
	Retained    bool // platform settlement account, no transfer needed
}

// Disburser splits each successful recurring invoice across the fixed
// recipient set. It runs after reconciliation and is deliberately
// decoupled from it: a disbursement failure never blocks user access.
type Disburser struct {
	DB             *sql.DB
	Config         Config
	CreateTransfer TransferFunc
}

func NewDisburser(db *sql.DB, cfg Config) *Disburser {
	return &Disburser{
		DB:             db,
		Config:         cfg,
		CreateTransfer: transfer.New,
	}
}

// ProcessingFeeCents computes Stripe's deducted fee for a gross amount.
func ProcessingFeeCents(grossCents int64) int64 {
	return int64(math.Round(float64(grossCents)*stripeFeePct)) + stripeFeeFixedCents
}

// ComputeShares splits a net amount into the fixed 46/46/8 recipient
// shares. Integer cents division floors each share, so the shares sum
// to at most the net amount; the remainder stays with the platform.
func ComputeShares(netCents int64, cfg Config) []Share {
	return []Share{
		{Account: cfg.PartnerAAccountID, AmountCents: netCents * partnerASharePct / 100},
		{Account: cfg.PartnerBAccountID, AmountCents: netCents * partnerBSharePct / 100},
		{Account: "platform", AmountCents: netCents * platformSharePct / 100, Retained: true},
	}
}

// DisburseInvoice computes the recipient shares for a paid invoice and
// issues the partner transfers. Transfers are executed independently:
// a region-restriction or account-type error for one recipient must not
// abort the others. The call is considered successful when at least one
// transfer went through (or in dry-run mode, always).
func (d *Disburser) DisburseInvoice(invoiceID, subscriptionID string, grossCents int64, currency string) error {
	if !d.Config.SplitEnabled {
		return nil
	}
	if grossCents <= 0 {
		return nil
	}

	fee := ProcessingFeeCents(grossCents)
	net := grossCents - fee
	if net <= 0 {
		log.Printf("WARNING: invoice %s gross %d does not cover processing fee %d, skipping disbursement",
			invoiceID, grossCents, fee)
		return nil
	}

	shares := ComputeShares(net, d.Config)
	log.Printf("Disbursing invoice %s: gross=%d fee=%d net=%d", invoiceID, grossCents, fee, net)

	attempted, succeeded := 0, 0
	for _, share := range shares {
		if share.Retained {
			d.recordTransfer(invoiceID, subscriptionID, share.Account, share.AmountCents, models.TransferStatusRetained, "")
			continue
		}
		if share.Account == "" {
			log.Printf("WARNING: invoice %s has an unconfigured partner account, skipping its %d cent share",
				invoiceID, share.AmountCents)
			continue
		}

		if d.Config.SplitDryRun {
			log.Printf("DRY RUN: would transfer %d cents of invoice %s to %s", share.AmountCents, invoiceID, share.Account)
			d.recordTransfer(invoiceID, subscriptionID, share.Account, share.AmountCents, models.TransferStatusDryRun, "")
			continue
		}

		attempted++
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(share.AmountCents),
			Currency:    stripe.String(currency),
			Destination: stripe.String(share.Account),
			Metadata: map[string]string{
				"invoice_id":      invoiceID,
				"subscription_id": subscriptionID,
			},
		}
		tr, err := d.CreateTransfer(params)
		if err != nil {
			// Log with enough context to retry by hand, record the
			// failure, and keep going with the remaining recipients.
			log.Printf("ERROR: transfer failed for invoice %s account=%s amount=%d: %v",
				invoiceID, share.Account, share.AmountCents, err)
			d.recordTransfer(invoiceID, subscriptionID, share.Account, share.AmountCents, models.TransferStatusFailed, err.Error())
			d.notifyTransferFailure(invoiceID, share.Account, share.AmountCents, err)
			continue
		}

		succeeded++
		log.Printf("Transferred %d cents of invoice %s to %s (transfer %s)",
			share.AmountCents, invoiceID, share.Account, tr.ID)
		d.recordTransfer(invoiceID, subscriptionID, share.Account, share.AmountCents, models.TransferStatusSent, "")
	}

	if attempted > 0 && succeeded == 0 {
		return fmt.Errorf("all %d partner transfers failed for invoice %s", attempted, invoiceID)
	}
	return nil
}

// recordTransfer persists one row of the transfer audit ledger.
// Best effort: the ledger exists so reversals can be reconstructed, but
// a write failure here must not fail the disbursement itself.
func (d *Disburser) recordTransfer(invoiceID, subscriptionID, account string, amountCents int64, status, providerError string) {
	var subID, provErr sql.NullString
	if subscriptionID != "" {
		subID = sql.NullString{String: subscriptionID, Valid: true}
	}
	if providerError != "" {
		provErr = sql.NullString{String: providerError, Valid: true}
	}

	_, err := d.DB.Exec(`
		INSERT INTO transfer_ledger
		(invoice_id, subscription_id, recipient_account, amount_cents, status, provider_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		invoiceID, subID, account, amountCents, status, provErr, time.Now())
	if err != nil {
		log.Printf("ERROR: failed to record transfer ledger entry for invoice %s: %v", invoiceID, err)
	}
}

func (d *Disburser) notifyTransferFailure(invoiceID, account string, amountCents int64, cause error) {
	var stripeErr *stripe.Error
	code := "unknown"
	if errors.As(cause, &stripeErr) {
		code = string(stripeErr.Code)
	}
	message := fmt.Sprintf(
		"Transfer failed: invoice=%s account=%s amount_cents=%d stripe_code=%s, retry manually",
		invoiceID, account, amountCents, code)

	_, err := d.DB.Exec(
		"INSERT INTO notifications (user_id, kind, message, is_read, created_at) VALUES (NULL, ?, ?, false, ?)",
		models.NotificationKindTransferFailed, message, time.Now())
	if err != nil {
		log.Printf("ERROR: failed to record transfer-failure notification: %v", err)
	}
}
