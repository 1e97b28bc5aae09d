package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lumora-ai/lumora-golang/internal/ai"
	"github.com/lumora-ai/lumora-golang/internal/billing"
	"github.com/lumora-ai/lumora-golang/internal/database"
	"github.com/lumora-ai/lumora-golang/internal/handlers"
	"github.com/lumora-ai/lumora-golang/internal/ledger"
	"github.com/lumora-ai/lumora-golang/internal/plans"
	"github.com/lumora-ai/lumora-golang/internal/routes"
)

func main() {
	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}

	// 1. --- Main Database Connection (Read/Write) ---
	db, err := database.OpenDB()
	if err != nil {
		log.Fatalf("Failed to connect to primary database: %v", err)
	}
	defer db.Close()

	// 2. --- Read-Only Database Connection ---
	// Used by the AI service's context queries. Falls back to the primary
	// pool when no dedicated read-only DSN is configured.
	dbReadOnly := db
	if readOnlyDSN := os.Getenv("DB_DSN_READONLY"); readOnlyDSN != "" {
		dbReadOnly, err = database.OpenDBWithDSN(readOnlyDSN)
		if err != nil {
			log.Fatalf("Failed to connect to read-only database: %v", err)
		}
		defer dbReadOnly.Close()
	} else {
		log.Println("WARNING: DB_DSN_READONLY not set, AI context queries will use the primary pool.")
	}

	// 3. --- Billing Configuration & Stripe ---
	billingConfig := billing.LoadConfig()
	if err := billing.InitStripe(billingConfig); err != nil {
		log.Fatalf("Failed to initialize Stripe: %v", err)
	}

	// 4. --- Core Services ---
	creditLedger := ledger.New(db)
	planResolver := plans.NewResolver(db)
	disburser := billing.NewDisburser(db, billingConfig)
	reconciler := billing.NewReconciler(db, creditLedger, planResolver, disburser, billingConfig)

	// 5. --- AI Service (Optional) ---
	// Prompt enhancement is a nice-to-have: without a Gemini key the
	// API still runs and generations use raw prompts.
	var aiService *ai.AIService
	if geminiKey := os.Getenv("GEMINI_API_KEY"); geminiKey != "" {
		aiService, err = ai.NewAIService(geminiKey, dbReadOnly)
		if err != nil {
			log.Fatalf("Failed to initialize AI Service: %v", err)
		}
		defer aiService.Client.Close()
	} else {
		log.Println("WARNING: GEMINI_API_KEY not set, prompt enhancement is disabled.")
	}

	// --- Application Setup ---
	app := &handlers.Handlers{
		DB:         db,
		DBReadOnly: dbReadOnly,
		Ledger:     creditLedger,
		Plans:      planResolver,
		Reconciler: reconciler,
		Disburser:  disburser,
		Billing:    billingConfig,
		AIService:  aiService,
	}

	// --- 6. Background Workers (Cron) ---
	// The expiration sweeper runs hourly; it only writes audit entries,
	// balances exclude expired grants on their own.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Println("Background Worker Started: sweeping expired credit grants hourly...")

		for range ticker.C {
			creditLedger.SweepExpiredGrants()
		}
	}()

	// --- Router Setup ---
	router := routes.SetupRouter(app)

	// --- Start Server ---
	log.Println("Starting Lumora API server on port 8080...")
	if err := router.Run(":8080"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
