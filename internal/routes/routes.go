package routes

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/lumora-ai/lumora-golang/internal/handlers"
	"github.com/lumora-ai/lumora-golang/internal/middleware"
)

// CORSMiddleware tells the browser that our frontend origin may talk
// to this API with credentials. The origin comes from FRONTEND_URL so
// staging and production don't need separate builds.
func CORSMiddleware() gin.HandlerFunc {
	allowedOrigin := os.Getenv("FRONTEND_URL")
	if allowedOrigin == "" {
		allowedOrigin = "http://localhost:5173"
	}

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		// Preflight OPTIONS requests get an empty 204.
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	// CORS must be the very first thing the router uses.
	router.Use(CORSMiddleware())

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Auth Routes (Public) ---
		v1.POST("/register", h.Register)
		v1.POST("/login", h.Login)

		// --- Public Pricing ---
		v1.GET("/plans", h.GetPlans)

		// --- Stripe Webhooks (Public, Signature-Verified) ---
		// Stripe can't log in; the signature check inside the handler is
		// the authentication.
		v1.POST("/webhooks/stripe", h.StripeWebhook)

		// --- Protected Routes (Login Required) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware(h.DB))
		{
			auth.GET("/profile/me", h.GetMyProfile)

			// --- Credits ---
			auth.GET("/credits", h.GetMyCredits)

			// --- Generations ---
			auth.POST("/generations", h.CreateGeneration)
			auth.GET("/generations", h.ListMyGenerations)

			// --- Dashboard ---
			auth.GET("/dashboard", h.GetMemberStats)

			// --- Billing ---
			auth.POST("/billing/checkout", h.CreateCheckoutSession)
			auth.POST("/billing/portal", h.CreateBillingPortal)

			// --- Notifications ---
			auth.GET("/notifications", h.GetMyNotifications)
			auth.PATCH("/notifications/:id/read", h.MarkNotificationAsRead)

			// --- Admin Routes (Admin Role Required) ---
			admin := auth.Group("/admin")
			admin.Use(middleware.AdminMiddleware(h.DB))
			{
				admin.POST("/users/:id/credits", h.GrantCredits)
				admin.POST("/users/:id/plan", h.AssignPlan)
				admin.GET("/transfers", h.ListTransfers)
				admin.GET("/notifications", h.GetAdminNotifications)
			}
		}
	}

	return router
}
