package billing

import (
	"os"
	"strconv"
)

// Config holds the Stripe and disbursement settings, read once from the
// environment at startup.
type Config struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string

	// PriceIDs maps plan names to the Stripe price ids configured for
	// them. Price-id match is the primary way a subscription event is
	// resolved to a plan; price metadata is the fallback.
	PriceIDs map[string]string

	// --- Split Disbursement ---
	PartnerAAccountID string
	PartnerBAccountID string
	SplitEnabled      bool

	// SplitDryRun simulates and logs transfers instead of executing
	// them. Useful in staging against live-mode webhooks.
	SplitDryRun bool
}

// LoadConfig reads the billing configuration from the environment.
func LoadConfig() Config {
	return Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:   os.Getenv("FRONTEND_URL"),
		PriceIDs: map[string]string{
			"basic":      os.Getenv("STRIPE_PRICE_ID_BASIC"),
			"premium":    os.Getenv("STRIPE_PRICE_ID_PREMIUM"),
			"enterprise": os.Getenv("STRIPE_PRICE_ID_ENTERPRISE"),
			"ultra":      os.Getenv("STRIPE_PRICE_ID_ULTRA"),
		},
		PartnerAAccountID: os.Getenv("SPLIT_PARTNER_A_ACCOUNT"),
		PartnerBAccountID: os.Getenv("SPLIT_PARTNER_B_ACCOUNT"),
		SplitEnabled:      envBool("SPLIT_PAYMENTS_ENABLED", false),
		SplitDryRun:       envBool("SPLIT_PAYMENTS_DRY_RUN", false),
	}
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
