package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/lumora-ai/lumora-golang/internal/auth"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/models"
	"github.com/lumora-ai/lumora-golang/internal/plans"
)

//
// --- User Registration ---
//

// RegisterUserInput holds the *input* from the user. This is separate
// from models.User because we don't accept an id, role or plan from
// the outside.
type RegisterUserInput struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register is the handler for POST /v1/register.
// New accounts start on the free plan; any credits the same email paid
// for as a guest are linked here, exactly once.
func (h *Handlers) Register(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input RegisterUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Hash the Password ---
	var password models.Password
	if err := password.Set(input.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	// 3. --- Create the User on the Free Plan ---
	freePlan := h.Plans.Resolve(plans.FreePlanName)
	now := time.Now()

	query := `
		INSERT INTO users
		(role, status, email, password_hash, full_name, subscription_plan,
		 monthly_generation_limit, monthly_generations_used, usage_period_start,
		 is_active, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, true, ?, ?, 1)`

	result, err := h.DB.Exec(query,
		"member", "active", input.Email, password.Hash, input.FullName,
		plans.FreePlanName, freePlan.MonthlyCreditLimit, ledger.MonthStartUTC(now), now, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	userID, err := result.LastInsertId()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	// 4. --- Link Deferred Guest-Checkout Credits ---
	// Best effort: the account exists either way, and the grants stay
	// parked for a retry if this fails.
	if err := h.Reconciler.ConsumePendingGrants(userID, input.Email); err != nil {
		log.Printf("WARNING: failed to link pending grants for user %d: %v", userID, err)
	}

	// 5. --- Issue a Token ---
	token, err := auth.GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Account created, but failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created successfully",
		"token":   token,
	})
}

//
// --- User Login ---
//

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login is the handler for POST /v1/login.
func (h *Handlers) Login(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Look Up the User ---
	var userID int64
	var passwordHash string
	var isActive bool
	err := h.DB.QueryRow(
		"SELECT id, password_hash, is_active FROM users WHERE email = ?",
		input.Email,
	).Scan(&userID, &passwordHash, &isActive)
	if err != nil {
		if err == sql.ErrNoRows {
			// Same error as a bad password, so emails can't be probed.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	if !isActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is disabled"})
		return
	}

	// 3. --- Verify the Password ---
	password := models.Password{Hash: passwordHash}
	matches, err := password.Matches(input.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if !matches {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// 4. --- Issue a Token ---
	token, err := auth.GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// GetMyProfile is the handler for GET /v1/profile/me.
func (h *Handlers) GetMyProfile(c *gin.Context) {
	userID_raw, _ := c.Get("userID")
	userID := userID_raw.(int64)

	var user models.User
	err := h.DB.QueryRow(`
		SELECT id, role, status, email, full_name, subscription_plan,
		       monthly_generation_limit, monthly_generations_used, usage_period_start,
		       is_active, created_at, updated_at
		FROM users WHERE id = ?`, userID,
	).Scan(
		&user.ID,
		&user.Role,
		&user.Status,
		&user.Email,
		&user.FullName,
		&user.SubscriptionPlan,
		&user.MonthlyGenerationLimit,
		&user.MonthlyGenerationsUsed,
		&user.UsagePeriodStart,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
