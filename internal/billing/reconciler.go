package billing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gosimple/slug"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/models"
	"github.com/lumora-ai/lumora-golang/internal/plans"
	"github.com/stripe/stripe-go/v79"
)

//
// --- Checkout/Webhook Reconciler ---
//

// errUserNotFound marks a resolution failure: the event's customer does
// not map to any account yet. Not retryable by Stripe, so handlers log
// and defer instead of returning it to the webhook endpoint.
var errUserNotFound = errors.New("no user for stripe customer")

// oneTimePurchases maps the exact charged amount, in cents, of a
// one-time checkout to its fixed plan label and credit grant. The
// amount is the ONLY key; any credits value in event metadata is
// ignored, and near-miss amounts credit nothing.
var oneTimePurchases = map[int64]struct {
	Label   string
	Credits int64
}{
	2700: {Label: "explorer", Credits: 800},
	4700: {Label: "a_la_carte", Credits: 2500},
}

func mapOneTimePurchase(amountCents int64) (string, int64, bool) {
	entry, ok := oneTimePurchases[amountCents]
	if !ok {
		return "", 0, false
	}
	return entry.Label, entry.Credits, true
}

// Reconciler translates inbound Stripe events into ledger entries,
// subscription rows, and user plan updates.
type Reconciler struct {
	DB        *sql.DB
	Ledger    *ledger.Ledger
	Plans     *plans.Resolver
	Disburser *Disburser
	Config    Config
}

func NewReconciler(db *sql.DB, ldgr *ledger.Ledger, resolver *plans.Resolver, disburser *Disburser, cfg Config) *Reconciler {
	return &Reconciler{
		DB:        db,
		Ledger:    ldgr,
		Plans:     resolver,
		Disburser: disburser,
		Config:    cfg,
	}
}

// HandleEvent processes one verified Stripe event. The event is logged
// to the webhook_events table BEFORE processing; a redelivery of a
// fully processed event id is detected there and skipped (Stripe
// delivers at-least-once). A returned error means the event was not
// fully processed and Stripe should retry it — and the retry WILL run
// again, because processed_at is only stamped after a successful
// attempt.
func (r *Reconciler) HandleEvent(event stripe.Event) error {
	fresh, err := r.logEvent(event)
	if err != nil {
		return fmt.Errorf("failed to log webhook event %s: %w", event.ID, err)
	}
	if !fresh {
		log.Printf("Skipping duplicate webhook event %s (%s)", event.ID, event.Type)
		return nil
	}

	var handleErr error
	switch event.Type {
	case "checkout.session.completed":
		handleErr = r.handleCheckoutCompleted(event)
	case "customer.subscription.created":
		handleErr = r.handleSubscriptionCreated(event)
	case "customer.subscription.updated":
		handleErr = r.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		handleErr = r.handleSubscriptionDeleted(event)
	case "invoice.payment_succeeded":
		handleErr = r.handleInvoicePaymentSucceeded(event)
	case "invoice.payment_failed":
		handleErr = r.handleInvoicePaymentFailed(event)
	default:
		log.Printf("Ignoring unhandled webhook event type %s", event.Type)
	}

	if handleErr != nil {
		return handleErr
	}

	r.markProcessed(event.ID)
	return nil
}

// logEvent persists the event keyed by Stripe's id. Returns false only
// when the id was already recorded AND fully processed. A recorded row
// with a NULL processed_at is an earlier attempt that failed; Stripe is
// retrying it, so it must run again.
func (r *Reconciler) logEvent(event stripe.Event) (bool, error) {
	result, err := r.DB.Exec(`
		INSERT IGNORE INTO webhook_events (event_id, event_type, payload, received_at)
		VALUES (?, ?, ?, ?)`,
		event.ID, string(event.Type), string(event.Data.Raw), time.Now())
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted > 0 {
		return true, nil
	}

	var processedAt sql.NullTime
	err = r.DB.QueryRow(
		"SELECT processed_at FROM webhook_events WHERE event_id = ?",
		event.ID).Scan(&processedAt)
	if err != nil {
		return false, err
	}
	if !processedAt.Valid {
		log.Printf("Webhook event %s was recorded but never processed, running it again", event.ID)
		return true, nil
	}
	return false, nil
}

func (r *Reconciler) markProcessed(eventID string) {
	_, err := r.DB.Exec(
		"UPDATE webhook_events SET processed_at = ? WHERE event_id = ?",
		time.Now(), eventID)
	if err != nil {
		log.Printf("WARNING: failed to mark webhook event %s processed: %v", eventID, err)
	}
}

//
// --- One-Time Purchase Path ---
//

func (r *Reconciler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	// Subscription-mode checkouts are reconciled through the
	// subscription lifecycle events; only one-time payments land here.
	if sess.Mode != stripe.CheckoutSessionModePayment {
		log.Printf("Checkout %s is %s mode, handled via subscription events", sess.ID, sess.Mode)
		return nil
	}

	label, credits, ok := mapOneTimePurchase(sess.AmountTotal)
	if !ok {
		log.Printf("WARNING: checkout %s charged unrecognized amount %d cents, not crediting", sess.ID, sess.AmountTotal)
		return nil
	}

	userID, err := r.findUserForSession(&sess)
	if errors.Is(err, errUserNotFound) {
		// Guest checkout: the payer has no account yet. Park the grant
		// keyed by email instead of crediting a placeholder identity;
		// it is consumed exactly once when the account registers.
		email := sessionEmail(&sess)
		if email == "" {
			log.Printf("ERROR: checkout %s has no resolvable user or email, needs manual reconciliation", sess.ID)
			return nil
		}
		return r.deferGrant(email, label, credits, sess.ID)
	}
	if err != nil {
		return err
	}

	description := fmt.Sprintf("One-time purchase: %s pack", label)
	if _, err := r.Ledger.ApplyDelta(userID, models.CreditTypePurchase, credits, description, sess.ID, nil); err != nil {
		return fmt.Errorf("failed to credit one-time purchase %s: %w", sess.ID, err)
	}

	// One-time labels sit outside the subscription hierarchy; they set
	// the plan label directly without a tier comparison.
	r.setUserPlanLabel(userID, label)
	log.Printf("Credited %d credits to user %d for checkout %s (%s)", credits, userID, sess.ID, label)
	return nil
}

func (r *Reconciler) deferGrant(email, label string, credits int64, externalRef string) error {
	result, err := r.DB.Exec(`
		INSERT IGNORE INTO pending_credit_grants (email, plan_label, credits, external_reference, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		email, label, credits, externalRef, time.Now())
	if err != nil {
		return fmt.Errorf("failed to defer credit grant for %s: %w", email, err)
	}
	if inserted, _ := result.RowsAffected(); inserted > 0 {
		log.Printf("Deferred %d credits (%s) for unregistered email %s, ref %s", credits, label, email, externalRef)
	}
	return nil
}

// ConsumePendingGrants applies any parked guest-checkout grants for a
// freshly registered account. The consumed_at guard makes each grant
// apply exactly once even if registration races a webhook retry.
func (r *Reconciler) ConsumePendingGrants(userID int64, email string) error {
	rows, err := r.DB.Query(`
		SELECT id, plan_label, credits, external_reference
		FROM pending_credit_grants
		WHERE email = ? AND consumed_at IS NULL`,
		email)
	if err != nil {
		return fmt.Errorf("failed to query pending grants: %w", err)
	}
	defer rows.Close()

	type grant struct {
		id      int64
		label   string
		credits int64
		ref     string
	}
	var grants []grant
	for rows.Next() {
		var g grant
		if err := rows.Scan(&g.id, &g.label, &g.credits, &g.ref); err != nil {
			return err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, g := range grants {
		result, err := r.DB.Exec(`
			UPDATE pending_credit_grants
			SET consumed_at = ?, consumed_by_user_id = ?
			WHERE id = ? AND consumed_at IS NULL`,
			time.Now(), userID, g.id)
		if err != nil {
			return fmt.Errorf("failed to consume pending grant %d: %w", g.id, err)
		}
		if claimed, _ := result.RowsAffected(); claimed == 0 {
			continue // another registration already claimed it
		}

		description := fmt.Sprintf("One-time purchase: %s pack (linked at signup)", g.label)
		if _, err := r.Ledger.ApplyDelta(userID, models.CreditTypePurchase, g.credits, description, g.ref, nil); err != nil {
			return fmt.Errorf("failed to apply pending grant %d: %w", g.id, err)
		}
		r.setUserPlanLabel(userID, g.label)
		log.Printf("Linked pending grant %d (%d credits, %s) to user %d", g.id, g.credits, g.label, userID)
	}
	return nil
}

//
// --- Subscription Lifecycle ---
//

func (r *Reconciler) handleSubscriptionCreated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	customerID := customerIDOf(sub.Customer)
	userID, err := r.findUserByCustomer(customerID)
	if errors.Is(err, errUserNotFound) {
		log.Printf("ERROR: subscription %s created for unknown customer %s, needs manual reconciliation", sub.ID, customerID)
		return nil
	}
	if err != nil {
		return err
	}

	planName := planFromSubscription(r.Config, &sub)
	if planName == "" {
		log.Printf("WARNING: could not resolve plan for subscription %s, recording without one", sub.ID)
	}

	return r.upsertSubscription(sub.ID, userID, customerID, planName, models.SubscriptionStatusCreated)
}

func (r *Reconciler) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	customerID := customerIDOf(sub.Customer)
	userID, err := r.findUserByCustomer(customerID)
	if errors.Is(err, errUserNotFound) {
		log.Printf("ERROR: subscription %s updated for unknown customer %s", sub.ID, customerID)
		return nil
	}
	if err != nil {
		return err
	}

	status := subscriptionStatusFromStripe(sub.Status)
	planName := planFromSubscription(r.Config, &sub)
	if err := r.upsertSubscription(sub.ID, userID, customerID, planName, status); err != nil {
		return err
	}

	if status == models.SubscriptionStatusActive && planName != "" {
		return r.applyPlanChange(userID, planName)
	}
	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	customerID := customerIDOf(sub.Customer)
	userID, err := r.findUserByCustomer(customerID)
	if errors.Is(err, errUserNotFound) {
		log.Printf("ERROR: subscription %s deleted for unknown customer %s", sub.ID, customerID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.upsertSubscription(sub.ID, userID, customerID, planFromSubscription(r.Config, &sub), models.SubscriptionStatusCanceled); err != nil {
		return err
	}

	// Cancellation always downgrades. No hierarchy check here: even a
	// manually granted tier falls back to free when the paid
	// subscription ends.
	freePlan := r.Plans.Resolve(plans.FreePlanName)
	_, err = r.DB.Exec(`
		UPDATE users
		SET subscription_plan = ?, monthly_generation_limit = ?, updated_at = ?
		WHERE id = ?`,
		plans.FreePlanName, freePlan.MonthlyCreditLimit, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to downgrade user %d on cancellation: %w", userID, err)
	}

	log.Printf("Subscription %s canceled, user %d downgraded to free", sub.ID, userID)
	return nil
}

//
// --- Invoice Events ---
//

func (r *Reconciler) handleInvoicePaymentSucceeded(event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}

	subscriptionID := ""
	if inv.Subscription != nil {
		subscriptionID = inv.Subscription.ID
	}
	if subscriptionID == "" {
		log.Printf("Invoice %s is not tied to a subscription, nothing to reconcile", inv.ID)
		return nil
	}

	customerID := customerIDOf(inv.Customer)
	userID, err := r.findUserByCustomer(customerID)
	if errors.Is(err, errUserNotFound) {
		log.Printf("ERROR: invoice %s paid by unknown customer %s", inv.ID, customerID)
		return nil
	}
	if err != nil {
		return err
	}

	// 1. --- Activate the Subscription ---
	if _, err := r.DB.Exec(
		"UPDATE subscriptions SET status = ?, updated_at = ? WHERE stripe_subscription_id = ?",
		models.SubscriptionStatusActive, time.Now(), subscriptionID); err != nil {
		return fmt.Errorf("failed to activate subscription %s: %w", subscriptionID, err)
	}

	// 2. --- Conditionally Update the Plan ---
	planName := r.subscriptionPlanName(subscriptionID)
	if planName != "" {
		if err := r.applyPlanChange(userID, planName); err != nil {
			return err
		}
	}

	// 3. --- Credit the Monthly Allotment ---
	// Keyed by invoice id, so a redelivered event cannot double-credit.
	// The grant expires after the billing period plus a grace month.
	if planName != "" {
		plan := r.Plans.Resolve(planName)
		allotment := plans.ComputeCreditAllotment(plan)
		if allotment.ActualCredits > 0 {
			expiresAt := time.Now().AddDate(0, 2, 0)
			description := fmt.Sprintf("Monthly credit allotment (%s)", planName)
			if _, err := r.Ledger.ApplyDelta(userID, models.CreditTypePurchase, allotment.ActualCredits, description, inv.ID, &expiresAt); err != nil {
				return fmt.Errorf("failed to credit invoice %s: %w", inv.ID, err)
			}
		}
	}

	// 4. --- Disburse (Decoupled) ---
	// A disbursement failure is logged and flagged for manual retry;
	// it never rolls back the activation above.
	if err := r.Disburser.DisburseInvoice(inv.ID, subscriptionID, inv.AmountPaid, string(inv.Currency)); err != nil {
		log.Printf("ERROR: disbursement failed for invoice %s: %v", inv.ID, err)
	}

	return nil
}

func (r *Reconciler) handleInvoicePaymentFailed(event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}

	if inv.Subscription == nil {
		return nil
	}

	// Soft-fail: mark past_due but do not revoke access. Stripe keeps
	// retrying the charge; cancellation arrives as its own event.
	_, err := r.DB.Exec(
		"UPDATE subscriptions SET status = ?, updated_at = ? WHERE stripe_subscription_id = ?",
		models.SubscriptionStatusPastDue, time.Now(), inv.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to mark subscription %s past_due: %w", inv.Subscription.ID, err)
	}

	log.Printf("Subscription %s marked past_due after failed invoice %s", inv.Subscription.ID, inv.ID)
	return nil
}

//
// --- Plan Change Decision ---
//

// shouldApplyPlanChange is the asymmetric upgrade rule: a billing sync
// may raise a user's plan or confirm it, but never lower a tier that an
// administrator granted manually. Cancellation bypasses this rule.
func shouldApplyPlanChange(currentPlan, incomingPlan string) bool {
	return plans.AtLeast(incomingPlan, currentPlan)
}

func (r *Reconciler) applyPlanChange(userID int64, planName string) error {
	var currentPlan string
	if err := r.DB.QueryRow("SELECT subscription_plan FROM users WHERE id = ?", userID).Scan(&currentPlan); err != nil {
		return fmt.Errorf("failed to read current plan for user %d: %w", userID, err)
	}

	if !shouldApplyPlanChange(currentPlan, planName) {
		log.Printf("Keeping user %d on manually-set plan %s (incoming %s is lower)", userID, currentPlan, planName)
		return nil
	}

	plan := r.Plans.Resolve(planName)
	_, err := r.DB.Exec(`
		UPDATE users
		SET subscription_plan = ?, monthly_generation_limit = ?, updated_at = ?
		WHERE id = ?`,
		planName, plan.MonthlyCreditLimit, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update plan for user %d: %w", userID, err)
	}

	log.Printf("User %d plan set to %s", userID, planName)
	return nil
}

// setUserPlanLabel stores a one-time purchase label as the user's plan
// without touching the cached generation limit.
func (r *Reconciler) setUserPlanLabel(userID int64, label string) {
	_, err := r.DB.Exec(
		"UPDATE users SET subscription_plan = ?, updated_at = ? WHERE id = ?",
		label, time.Now(), userID)
	if err != nil {
		log.Printf("WARNING: failed to set plan label %s for user %d: %v", label, userID, err)
	}
}

//
// --- Lookup Helpers ---
//

func customerIDOf(cust *stripe.Customer) string {
	if cust == nil {
		return ""
	}
	return cust.ID
}

func sessionEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}

func (r *Reconciler) findUserByCustomer(customerID string) (int64, error) {
	if customerID == "" {
		return 0, errUserNotFound
	}
	var userID int64
	err := r.DB.QueryRow("SELECT id FROM users WHERE stripe_customer_id = ?", customerID).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, errUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (r *Reconciler) findUserForSession(sess *stripe.CheckoutSession) (int64, error) {
	if userID, err := r.findUserByCustomer(customerIDOf(sess.Customer)); err == nil {
		return userID, nil
	} else if !errors.Is(err, errUserNotFound) {
		return 0, err
	}

	email := sessionEmail(sess)
	if email == "" {
		return 0, errUserNotFound
	}
	var userID int64
	err := r.DB.QueryRow("SELECT id FROM users WHERE email = ?", email).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, errUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (r *Reconciler) subscriptionPlanName(subscriptionID string) string {
	var planName string
	err := r.DB.QueryRow(
		"SELECT plan_name FROM subscriptions WHERE stripe_subscription_id = ?",
		subscriptionID).Scan(&planName)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("WARNING: failed to read plan for subscription %s: %v", subscriptionID, err)
		}
		return ""
	}
	return planName
}

func (r *Reconciler) upsertSubscription(subscriptionID string, userID int64, customerID, planName, status string) error {
	_, err := r.DB.Exec(`
		INSERT INTO subscriptions
		(stripe_subscription_id, user_id, stripe_customer_id, plan_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		plan_name = VALUES(plan_name), status = VALUES(status), updated_at = VALUES(updated_at)`,
		subscriptionID, userID, customerID, planName, status, time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// subscriptionStatusFromStripe collapses Stripe's subscription statuses
// onto our four-state lifecycle.
func subscriptionStatusFromStripe(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusCreated
	}
}

//
// --- Plan Resolution from Stripe Prices ---
//

// planFromSubscription resolves the plan name for a subscription from
// its line items. Configured price ids win; price metadata and the
// price nickname (slug-normalized) are the fallbacks.
func planFromSubscription(cfg Config, sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if name := planFromPrice(cfg, item.Price); name != "" {
			return name
		}
	}
	return ""
}

func planFromPrice(cfg Config, price *stripe.Price) string {
	for name, id := range cfg.PriceIDs {
		if id != "" && id == price.ID {
			return name
		}
	}

	if meta := price.Metadata["plan_name"]; meta != "" {
		if name := slug.Make(meta); plans.IsKnown(name) {
			return name
		}
	}
	if price.Nickname != "" {
		if name := slug.Make(price.Nickname); plans.IsKnown(name) {
			return name
		}
	}
	return ""
}
