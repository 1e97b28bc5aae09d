package models

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User Model with Pointers for Nullable Fields
type User struct {
	ID           int64  `json:"id" db:"id"`
	Role         string `json:"role" db:"role"` // member or administrator
	Status       string `json:"status" db:"status"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	FullName     string `json:"fullName" db:"full_name"`

	// --- Billing Fields ---
	StripeCustomerID *string `json:"-" db:"stripe_customer_id"`

	// SubscriptionPlan is the user's current plan name. It is changed by
	// webhook reconciliation, by an admin override, or by a one-time
	// purchase. Never compare plans as raw strings; use plans.Rank.
	SubscriptionPlan string `json:"subscriptionPlan" db:"subscription_plan"`

	// --- Monthly Usage Tracking ---
	// MonthlyGenerationLimit is a cached copy of the plan's quota. The
	// "can the user start a generation" pre-check reads this, not the
	// ledger, which makes enforcement soft under concurrent requests.
	MonthlyGenerationLimit int64     `json:"monthlyGenerationLimit" db:"monthly_generation_limit"`
	MonthlyGenerationsUsed int64     `json:"monthlyGenerationsUsed" db:"monthly_generations_used"`
	UsagePeriodStart       time.Time `json:"-" db:"usage_period_start"`

	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	Version   int       `json:"-" db:"version"`
}

// Password Helper (Standard)
type Password struct {
	Plaintext *string
	Hash      string
}

func (p *Password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.Hash = string(hash)
	p.Plaintext = &plaintextPassword
	return nil
}

func (p *Password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte(plaintextPassword))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
