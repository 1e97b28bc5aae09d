package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumora-ai/lumora-golang/internal/models"
	"github.com/lumora-ai/lumora-golang/internal/plans"
)

//
// --- Admin Handlers ---
//

type GrantCreditsInput struct {
	Credits     int64  `json:"credits" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// GrantCredits is the handler for POST /v1/admin/users/:id/credits.
// Admin grants go through the same ledger as everything else; there is
// no side door that adjusts a balance directly.
func (h *Handlers) GrantCredits(c *gin.Context) {
	// 1. --- Get Target User ID from URL ---
	var userID int64
	if _, err := fmt.Sscan(c.Param("id"), &userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	// 2. --- Bind & Validate JSON ---
	var input GrantCreditsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Credits == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Credits must be non-zero"})
		return
	}

	// 3. --- Apply the Grant ---
	// Each grant gets a fresh reference so repeated grants of the same
	// amount are distinct, intentional transactions.
	ref := "admin:" + uuid.New().String()
	txID, err := h.Ledger.ApplyDelta(userID, models.CreditTypeAdminGrant, input.Credits, input.Description, ref, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant credits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Credits granted",
		"transactionId": txID,
	})
}

type AssignPlanInput struct {
	PlanName string `json:"planName" binding:"required"`
}

// AssignPlan is the handler for POST /v1/admin/users/:id/plan.
// A manual assignment is an override: unlike billing syncs, it applies
// even when it is a downgrade.
func (h *Handlers) AssignPlan(c *gin.Context) {
	// 1. --- Get Target User ID from URL ---
	var userID int64
	if _, err := fmt.Sscan(c.Param("id"), &userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	// 2. --- Bind & Validate JSON ---
	var input AssignPlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !plans.IsKnown(input.PlanName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown plan '%s'", input.PlanName)})
		return
	}

	// 3. --- Apply the Plan and Refresh the Cached Limit ---
	plan := h.Plans.Resolve(input.PlanName)
	result, err := h.DB.Exec(
		"UPDATE users SET subscription_plan = ?, monthly_generation_limit = ? WHERE id = ?",
		input.PlanName, plan.MonthlyCreditLimit, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign plan"})
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign plan"})
		return
	}
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("User assigned to the '%s' plan", input.PlanName)})
}

// ListTransfers is the handler for GET /v1/admin/transfers.
// The transfer ledger is how support answers "did partner X get paid
// for invoice Y", so failed rows surface first.
func (h *Handlers) ListTransfers(c *gin.Context) {
	rows, err := h.DB.Query(`
		SELECT id, invoice_id, subscription_id, recipient_account, amount_cents, status, provider_error, created_at
		FROM transfer_ledger
		ORDER BY (status = ?) DESC, created_at DESC
		LIMIT 200`, models.TransferStatusFailed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list transfers"})
		return
	}
	defer rows.Close()

	transfers := []models.TransferLedgerEntry{}
	for rows.Next() {
		var entry models.TransferLedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.InvoiceID,
			&entry.SubscriptionID,
			&entry.RecipientAccount,
			&entry.AmountCents,
			&entry.Status,
			&entry.ProviderError,
			&entry.CreatedAt,
		); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan transfer"})
			return
		}
		transfers = append(transfers, entry)
	}

	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}
