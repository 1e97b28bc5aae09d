package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Generation Handlers ---
//

// modelCosts maps each generation model to its credit cost. Video is an
// order of magnitude more expensive than a fast image pass.
var modelCosts = map[string]int64{
	"flux-schnell": 1,
	"flux-dev":     2,
	"flux-pro":     4,
	"video-gen":    10,
}

type CreateGenerationInput struct {
	ModelName string `json:"modelName" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

// CreateGeneration is the handler for POST /v1/generations.
// Order matters here: entitlement checks first (they're cheap and
// read-only), then the ledger debit, then the queue insert is flipped
// live. The debit is the hard gate; the monthly quota is a soft one.
func (h *Handlers) CreateGeneration(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	// 1. --- Bind & Validate JSON ---
	var input CreateGenerationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cost, ok := modelCosts[input.ModelName]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown model '%s'", input.ModelName)})
		return
	}

	// 2. --- Resolve the User's Plan ---
	var planName string
	var monthlyLimit, monthlyUsed int64
	err := h.DB.QueryRow(
		"SELECT subscription_plan, monthly_generation_limit, monthly_generations_used FROM users WHERE id = ?",
		userID,
	).Scan(&planName, &monthlyLimit, &monthlyUsed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	plan := h.Plans.Resolve(planName)

	// 3. --- Model Entitlement Check ---
	if !modelAllowed(plan.AllowedModels, input.ModelName) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": fmt.Sprintf("Your '%s' plan does not include the '%s' model", planName, input.ModelName),
		})
		return
	}

	// 4. --- Concurrency Check ---
	var inFlight int
	err = h.DB.QueryRow(`
		SELECT COUNT(*) FROM generation_requests
		WHERE user_id = ? AND status IN (?, ?)`,
		userID, models.GenerationStatusQueued, models.GenerationStatusRunning,
	).Scan(&inFlight)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check active generations"})
		return
	}
	if inFlight >= plan.ConcurrentGenerationLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("You already have %d generations in progress (plan limit: %d)", inFlight, plan.ConcurrentGenerationLimit),
		})
		return
	}

	// 5. --- Balance Check ---
	// A soft pre-check: the ledger debit below is the authoritative gate.
	balance, err := h.Ledger.GetBalance(h.DB, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check credit balance"})
		return
	}
	if balance < cost {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":          "Insufficient credits",
			"currentBalance": balance,
			"required":       cost,
		})
		return
	}

	// 6. --- Monthly Quota Pre-Check ---
	// Reads the cached per-user counter, not the ledger, so enforcement
	// is soft under concurrent requests. The ledger debit stays the hard
	// gate either way.
	if monthlyLimit > 0 && monthlyUsed >= monthlyLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Monthly generation limit reached (%d/%d)", monthlyUsed, monthlyLimit),
		})
		return
	}

	// 7. --- Enhance the Prompt (Best Effort) ---
	finalPrompt := input.Prompt
	if h.AIService != nil {
		enhanced, err := h.AIService.EnhancePrompt(c.Request.Context(), userID, input.Prompt, input.ModelName)
		if err != nil {
			log.Printf("WARNING: prompt enhancement failed for user %d, using raw prompt: %v", userID, err)
		} else {
			finalPrompt = enhanced
		}
	}

	// 8. --- Create the Generation Request ---
	generationID := uuid.New().String()
	_, err = h.DB.Exec(`
		INSERT INTO generation_requests
		(id, user_id, model_name, prompt, enhanced_prompt, credits_cost, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		generationID, userID, input.ModelName, input.Prompt, finalPrompt, cost,
		models.GenerationStatusQueued, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue generation"})
		return
	}

	// 9. --- Debit the Ledger ---
	// The generation id is the idempotency key, so a retried request
	// can never double-charge.
	description := fmt.Sprintf("Generation with %s", input.ModelName)
	_, err = h.Ledger.ApplyDelta(userID, models.CreditTypeUsage, -cost, description, "gen:"+generationID, nil)
	if err != nil {
		// Debit failed: the queued row must not run.
		_, markErr := h.DB.Exec(
			"UPDATE generation_requests SET status = ? WHERE id = ?",
			models.GenerationStatusFailed, generationID)
		if markErr != nil {
			log.Printf("ERROR: failed to mark generation %s failed after debit error: %v", generationID, markErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to charge credits"})
		return
	}

	// 10. --- Bump the Monthly Counter ---
	_, err = h.DB.Exec(
		"UPDATE users SET monthly_generations_used = monthly_generations_used + 1 WHERE id = ?",
		userID)
	if err != nil {
		log.Printf("WARNING: failed to bump monthly counter for user %d: %v", userID, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Generation queued",
		"generationId": generationID,
		"creditsCost":  cost,
		"prompt":       finalPrompt,
	})
}

// ListMyGenerations is the handler for GET /v1/generations.
func (h *Handlers) ListMyGenerations(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	rows, err := h.DB.Query(`
		SELECT id, user_id, model_name, prompt, COALESCE(enhanced_prompt, ''), credits_cost, status, created_at, completed_at
		FROM generation_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 50`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list generations"})
		return
	}
	defer rows.Close()

	generations := []models.GenerationRequest{}
	for rows.Next() {
		var gen models.GenerationRequest
		if err := rows.Scan(
			&gen.ID,
			&gen.UserID,
			&gen.ModelName,
			&gen.Prompt,
			&gen.EnhancedPrompt,
			&gen.CreditsCost,
			&gen.Status,
			&gen.CreatedAt,
			&gen.CompletedAt,
		); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan generation"})
			return
		}
		generations = append(generations, gen)
	}

	c.JSON(http.StatusOK, gin.H{"generations": generations})
}

// modelAllowed checks a model name against a plan's comma-separated
// allow-list.
func modelAllowed(allowedModels, modelName string) bool {
	for _, allowed := range strings.Split(allowedModels, ",") {
		if strings.TrimSpace(allowed) == modelName {
			return true
		}
	}
	return false
}
