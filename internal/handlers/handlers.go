package handlers

import (
	"database/sql"

	"github.com/lumora-ai/lumora-golang/internal/ai"
	"github.com/lumora-ai/lumora-golang/internal/billing"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/plans"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	DB         *sql.DB // Primary Read/Write connection
	DBReadOnly *sql.DB // Read-Only connection for the AI service

	Ledger     *ledger.Ledger
	Plans      *plans.Resolver
	Reconciler *billing.Reconciler
	Disburser  *billing.Disburser
	Billing    billing.Config

	// AIService may be nil when no Gemini key is configured; callers
	// fall back to the raw prompt.
	AIService *ai.AIService
}
