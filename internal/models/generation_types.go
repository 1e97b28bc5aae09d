package models

import "time"

// Generation request statuses.
const (
	GenerationStatusQueued    = "queued"
	GenerationStatusRunning   = "running"
	GenerationStatusSucceeded = "succeeded"
	GenerationStatusFailed    = "failed"
)

// GenerationRequest is the model for the 'generation_requests' table.
type GenerationRequest struct {
	ID             string     `json:"id" db:"id"` // uuid
	UserID         int64      `json:"userId" db:"user_id"`
	ModelName      string     `json:"modelName" db:"model_name"`
	Prompt         string     `json:"prompt" db:"prompt"`
	EnhancedPrompt string     `json:"enhancedPrompt,omitempty" db:"enhanced_prompt"`
	CreditsCost    int64      `json:"creditsCost" db:"credits_cost"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	CompletedAt    *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}
