package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumora-ai/lumora-golang/internal/plans"
)

//
// --- Public Plan Handlers ---
//

// planView is the pricing-page shape of a plan. Credits shown here are
// the display-scaled numbers, not the internal billing ceiling.
type planView struct {
	PlanName                  string   `json:"planName"`
	MonthlyCredits            int64    `json:"monthlyCredits"`
	ConcurrentGenerationLimit int      `json:"concurrentGenerationLimit"`
	AllowedModels             []string `json:"allowedModels"`
	PriceCents                int64    `json:"priceCents"`
}

// GetPlans is the handler for GET /v1/plans. It is public: the pricing
// page calls it before any login.
func (h *Handlers) GetPlans(c *gin.Context) {
	publicPlans := h.Plans.ListPublic()

	views := make([]planView, 0, len(publicPlans))
	for _, plan := range publicPlans {
		allotment := plans.ComputeCreditAllotment(plan)
		views = append(views, planView{
			PlanName:                  plan.PlanName,
			MonthlyCredits:            allotment.DisplayCredits,
			ConcurrentGenerationLimit: plan.ConcurrentGenerationLimit,
			AllowedModels:             strings.Split(plan.AllowedModels, ","),
			PriceCents:                plan.PriceCents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"plans": views})
}
