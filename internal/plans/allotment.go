package plans

import "github.com/lumora-ai/lumora-golang/internal/models"

//
// --- Credit Allotment Math ---
//

const (
	// marginMultiplier caps how much of a plan's price may be spent on
	// model costs. price / marginMultiplier is the real spend ceiling.
	marginMultiplier = 2.0

	// perUnitCostCents is the modeled provider cost of one credit.
	perUnitCostCents = 5.0

	// Display multipliers. Display credits are a presentation-layer
	// scaling only; they never change the real billing ceiling.
	lowTierDisplayMultiplier  = 10
	highTierDisplayMultiplier = 9

	// Plans ranked above this use the high-tier display multiplier.
	highTierRankThreshold = 3 // enterprise and up
)

// Allotment carries both credit numbers for a plan. ActualCredits is
// the real ceiling derived from price and margin; DisplayCredits is the
// larger user-facing number.
type Allotment struct {
	ActualCredits  int64 `json:"actualCredits"`
	DisplayCredits int64 `json:"displayCredits"`
}

// ComputeCreditAllotment derives a plan's real credit ceiling from its
// price (maxCost = price / margin; credits = floor(maxCost / unitCost))
// and scales it into the display number with a tiered multiplier.
// Zero-price plans have no price to derive from, so their configured
// monthly limit is taken as the actual ceiling.
func ComputeCreditAllotment(plan models.Plan) Allotment {
	var actual int64
	if plan.PriceCents > 0 {
		maxCostCents := float64(plan.PriceCents) / marginMultiplier
		actual = int64(maxCostCents / perUnitCostCents)
	} else {
		actual = plan.MonthlyCreditLimit
	}

	multiplier := int64(lowTierDisplayMultiplier)
	if Rank(plan.PlanName) >= highTierRankThreshold {
		multiplier = highTierDisplayMultiplier
	}

	return Allotment{
		ActualCredits:  actual,
		DisplayCredits: actual * multiplier,
	}
}

// DisplayCreditsUsed converts real usage into the display scale
// proportionally, capped at the display total. Over-usage (actual used
// beyond the actual ceiling) renders as exactly 100%, never more.
func DisplayCreditsUsed(actualUsed, actualTotal, displayTotal int64) int64 {
	if actualUsed <= 0 {
		return 0
	}
	if actualTotal <= 0 || actualUsed >= actualTotal {
		return displayTotal
	}
	scaled := actualUsed * displayTotal / actualTotal
	if scaled > displayTotal {
		return displayTotal
	}
	return scaled
}
