package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Credit HTTP Handlers ---
//

// GetMyCredits is the handler for GET /v1/credits.
// It returns the user's live balance, this period's usage, and recent
// transaction history. All reads go through the ledger; nothing here
// writes.
func (h *Handlers) GetMyCredits(c *gin.Context) {
	// 1. --- Get User ID ---
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	// 2. --- Get Current Balance ---
	balance, err := h.Ledger.GetBalance(h.DB, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get credit balance"})
		return
	}

	// 3. --- Get This Period's Usage ---
	used, err := h.Ledger.GetUsageThisPeriod(userID, ledger.MonthStartUTC(time.Now()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get usage"})
		return
	}

	// 4. --- Get Transaction History ---
	history, err := h.Ledger.GetHistory(userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get transaction history"})
		return
	}
	if history == nil {
		history = []*models.CreditTransaction{}
	}

	// 5. --- Send Response ---
	c.JSON(http.StatusOK, gin.H{
		"currentBalance":  balance,
		"usedThisPeriod":  used,
		"transactions":    history,
		"periodStartsUtc": ledger.MonthStartUTC(time.Now()),
	})
}
