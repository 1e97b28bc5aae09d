package billing

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
)

// InitStripe wires the Stripe API key from the billing config.
func InitStripe(cfg Config) error {
	if cfg.SecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is not set")
	}
	stripe.Key = cfg.SecretKey
	return nil
}

// EnsureCustomer finds or creates a Stripe Customer for the given user.
// It uses users.stripe_customer_id when present, otherwise creates a new
// customer carrying our user id in metadata, then stores the id back.
func EnsureCustomer(db *sql.DB, userID int64) (string, error) {
	var stripeID sql.NullString
	var email, fullName string
	err := db.QueryRow(
		"SELECT stripe_customer_id, email, full_name FROM users WHERE id = ?",
		userID,
	).Scan(&stripeID, &email, &fullName)
	if err != nil {
		return "", fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	if stripeID.Valid && stripeID.String != "" {
		return stripeID.String, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(fullName),
		Metadata: map[string]string{
			"user_id": fmt.Sprintf("%d", userID),
		},
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}

	_, err = db.Exec(
		"UPDATE users SET stripe_customer_id = ? WHERE id = ?",
		cust.ID, userID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store stripe customer id: %w", err)
	}

	return cust.ID, nil
}
