package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/plans"
)

//
// --- Dashboard Handlers ---
//

// GetMemberStats is the handler for GET /v1/dashboard.
// Everything credit-shaped in this payload is in the display scale; the
// real ledger numbers never leave the server from here.
func (h *Handlers) GetMemberStats(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	// 1. --- Load Plan & Usage Counters ---
	var planName string
	var monthlyUsed int64
	err := h.DB.QueryRow(
		"SELECT subscription_plan, monthly_generations_used FROM users WHERE id = ?",
		userID,
	).Scan(&planName, &monthlyUsed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	plan := h.Plans.Resolve(planName)
	allotment := plans.ComputeCreditAllotment(plan)

	// 2. --- This Period's Credit Usage ---
	actualUsed, err := h.Ledger.GetUsageThisPeriod(userID, ledger.MonthStartUTC(time.Now()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}

	// 3. --- In-Flight Generations ---
	var inFlight int
	err = h.DB.QueryRow(`
		SELECT COUNT(*) FROM generation_requests
		WHERE user_id = ? AND status IN ('queued', 'running')`, userID,
	).Scan(&inFlight)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load generation stats"})
		return
	}

	// 4. --- Scale Into Display Credits ---
	displayUsed := plans.DisplayCreditsUsed(actualUsed, allotment.ActualCredits, allotment.DisplayCredits)

	c.JSON(http.StatusOK, gin.H{
		"plan":                 planName,
		"monthlyCredits":       allotment.DisplayCredits,
		"creditsUsed":          displayUsed,
		"generationsThisMonth": monthlyUsed,
		"activeGenerations":    inFlight,
		"concurrencyLimit":     plan.ConcurrentGenerationLimit,
	})
}
