package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"karatrack-backend/internal/handlers"
	"karatrack-backend/internal/middleware"
)

func newRouter(a *app) *gin.Engine {
	cfg := a.cfg
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	hideDetail := cfg.IsProduction()
	projectsHandler := handlers.NewProjectsHandler(a.projects, cfg.MaxUploadMB<<20, hideDetail)
	creditsHandler := handlers.NewCreditsHandler(a.ledger, a.catalog, a.projects, hideDetail)
	billingHandler := handlers.NewBillingHandler(a.billing, hideDetail)
	webhookHandler := handlers.NewWebhookHandler(a.projects, cfg.WorkerCallbackSecret)
	stripeHandler := handlers.NewStripeWebhookHandler(a.billing, cfg.StripeWebhookSecret)

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)
	if a.db != nil {
		router.GET("/ready", handlers.ReadyHandler(a.db))
	} else {
		router.GET("/ready", handlers.ReadyHandler(nil))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate with their own secrets
	router.POST("/api/v1/webhooks/worker", webhookHandler.HandleWorkerCallback)
	router.POST("/api/v1/webhooks/stripe", stripeHandler.HandleStripeWebhook)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))
	api.Use(middleware.EnsureAccount(a.ledger))

	api.GET("/me", creditsHandler.GetMe)

	// Project routes
	api.POST("/projects", projectsHandler.CreateProject)
	api.GET("/projects", projectsHandler.ListProjects)
	api.GET("/projects/:project_id", projectsHandler.GetProject)
	api.POST("/projects/:project_id/process", projectsHandler.StartProcessing)
	api.POST("/projects/:project_id/transcribe", projectsHandler.StartTranscription)
	api.GET("/projects/:project_id/lyrics", projectsHandler.GetLyrics)
	api.POST("/projects/:project_id/render", projectsHandler.SubmitRender)
	api.GET("/projects/:project_id/download", projectsHandler.Download)

	// Credits
	api.GET("/credits", creditsHandler.GetCredits)
	api.POST("/credits/quote", creditsHandler.Quote)

	// Billing
	api.GET("/billing/plans", billingHandler.Plans)
	api.GET("/billing/packages", billingHandler.Packages)
	api.POST("/billing/checkout", billingHandler.Checkout)
	api.POST("/billing/portal", billingHandler.Portal)

	return router
}
