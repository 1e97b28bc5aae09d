package plans

import (
	"database/sql"
	"log"

	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Plan Hierarchy ---
//

// Plan names, lowest tier first. The slice IS the total order: a plan's
// index is its rank, so tier comparisons are a single integer compare.
var hierarchy = []string{"free", "basic", "premium", "enterprise", "ultra"}

var rankByName = buildRanks()

func buildRanks() map[string]int {
	ranks := make(map[string]int, len(hierarchy))
	for i, name := range hierarchy {
		ranks[name] = i
	}
	return ranks
}

// FreePlanName is the unconditional downgrade target on cancellation.
const FreePlanName = "free"

// Rank returns a plan's position in the hierarchy. Unknown names rank
// below everything, so they never displace a real plan.
func Rank(planName string) int {
	if rank, ok := rankByName[planName]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether plan a is equal-or-higher tier than plan b.
// This is the guard that keeps a billing sync from silently downgrading
// a manually granted plan.
func AtLeast(a, b string) bool {
	return Rank(a) >= Rank(b)
}

// IsKnown reports whether the name is one of the fixed plan enumeration.
func IsKnown(planName string) bool {
	_, ok := rankByName[planName]
	return ok
}

//
// --- Plan Rules Resolver ---
//

// defaultPlans is the hardcoded fallback table, used when the external
// 'plans' table has no active row for a known plan name. The free entry
// doubles as the most conservative entitlement for total misses.
var defaultPlans = map[string]models.Plan{
	"free": {
		PlanName:                  "free",
		MonthlyCreditLimit:        40,
		ConcurrentGenerationLimit: 1,
		AllowedModels:             "flux-schnell",
		PriceCents:                0,
		IsActive:                  true,
	},
	"basic": {
		PlanName:                  "basic",
		MonthlyCreditLimit:        500,
		ConcurrentGenerationLimit: 2,
		AllowedModels:             "flux-schnell,flux-dev",
		PriceCents:                1900,
		IsActive:                  true,
	},
	"premium": {
		PlanName:                  "premium",
		MonthlyCreditLimit:        1500,
		ConcurrentGenerationLimit: 3,
		AllowedModels:             "flux-schnell,flux-dev,flux-pro",
		PriceCents:                4900,
		IsActive:                  true,
	},
	"enterprise": {
		PlanName:                  "enterprise",
		MonthlyCreditLimit:        4000,
		ConcurrentGenerationLimit: 5,
		AllowedModels:             "flux-schnell,flux-dev,flux-pro,video-gen",
		PriceCents:                12900,
		IsActive:                  true,
	},
	"ultra": {
		PlanName:                  "ultra",
		MonthlyCreditLimit:        10000,
		ConcurrentGenerationLimit: 10,
		AllowedModels:             "flux-schnell,flux-dev,flux-pro,video-gen",
		PriceCents:                29900,
		IsActive:                  true,
	},
}

// Resolver answers "what does this plan entitle the user to".
// The external plans table wins; hardcoded defaults back it up.
type Resolver struct {
	DB *sql.DB
}

func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{DB: db}
}

// Resolve maps a plan name to its entitlements.
// Lookup order: active row in the plans table, then the hardcoded
// default for known names, then the conservative free plan.
func (r *Resolver) Resolve(planName string) models.Plan {
	query := `
		SELECT plan_name, monthly_credit_limit, concurrent_generation_limit, allowed_models, price_cents, is_public, is_active, created_at, updated_at
		FROM plans
		WHERE plan_name = ? AND is_active = true`

	var plan models.Plan
	err := r.DB.QueryRow(query, planName).Scan(
		&plan.PlanName,
		&plan.MonthlyCreditLimit,
		&plan.ConcurrentGenerationLimit,
		&plan.AllowedModels,
		&plan.PriceCents,
		&plan.IsPublic,
		&plan.IsActive,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err == nil {
		return plan
	}
	if err != sql.ErrNoRows {
		log.Printf("WARNING: plan lookup failed for %q, using defaults: %v", planName, err)
	}

	return resolveDefault(planName)
}

func resolveDefault(planName string) models.Plan {
	if plan, ok := defaultPlans[planName]; ok {
		return plan
	}
	log.Printf("WARNING: unknown plan %q, falling back to free entitlements", planName)
	return defaultPlans[FreePlanName]
}

// ListPublic returns the active, publicly visible plans for the pricing
// page, falling back to the hardcoded table if the query fails.
func (r *Resolver) ListPublic() []models.Plan {
	query := `
		SELECT plan_name, monthly_credit_limit, concurrent_generation_limit, allowed_models, price_cents, is_public, is_active, created_at, updated_at
		FROM plans
		WHERE is_active = true AND is_public = true
		ORDER BY price_cents ASC`

	rows, err := r.DB.Query(query)
	if err != nil {
		log.Printf("WARNING: plan list query failed, using defaults: %v", err)
		return defaultPlanList()
	}
	defer rows.Close()

	var result []models.Plan
	for rows.Next() {
		var plan models.Plan
		if err := rows.Scan(
			&plan.PlanName,
			&plan.MonthlyCreditLimit,
			&plan.ConcurrentGenerationLimit,
			&plan.AllowedModels,
			&plan.PriceCents,
			&plan.IsPublic,
			&plan.IsActive,
			&plan.CreatedAt,
			&plan.UpdatedAt,
		); err != nil {
			log.Printf("WARNING: plan row scan failed: %v", err)
			return defaultPlanList()
		}
		result = append(result, plan)
	}
	if len(result) == 0 {
		return defaultPlanList()
	}
	return result
}

func defaultPlanList() []models.Plan {
	result := make([]models.Plan, 0, len(hierarchy))
	for _, name := range hierarchy {
		result = append(result, defaultPlans[name])
	}
	return result
}
