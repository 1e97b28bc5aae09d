package models

import "time"

// Plan defines the model for the 'plans' table.
// Plans are admin-editable; the resolver falls back to hardcoded
// defaults when a row is missing or inactive.
type Plan struct {
	PlanName                  string    `json:"planName" db:"plan_name"`
	MonthlyCreditLimit        int64     `json:"monthlyCreditLimit" db:"monthly_credit_limit"`
	ConcurrentGenerationLimit int       `json:"concurrentGenerationLimit" db:"concurrent_generation_limit"`
	AllowedModels             string    `json:"allowedModels" db:"allowed_models"` // comma-separated model names
	PriceCents                int64     `json:"priceCents" db:"price_cents"`       // price per billing period
	IsPublic                  bool      `json:"isPublic" db:"is_public"`
	IsActive                  bool      `json:"isActive" db:"is_active"`
	CreatedAt                 time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt                 time.Time `json:"updatedAt" db:"updated_at"`
}
