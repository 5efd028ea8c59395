package handler

import (
	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/adapter/http/middleware"
	"payment-orchestration-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Orchestrator interface {
		PaymentOrchestrator
		AdminOrchestrator
	}
	Recoverer      Recoverer
	Cleaner        Cleaner
	JWT            config.JWTConfig
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check: verifies PostgreSQL + Redis dependencies
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	jwtAuth := middleware.JWTAuth(deps.JWT, deps.Logger)
	v1 := r.Group("/api/v1")

	// --- Merchant routes ---
	paymentHandler := NewPaymentHandler(deps.Orchestrator)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("/:id", paymentHandler.GetPayment)
		payments.GET("/:id/events", paymentHandler.GetPaymentEvents)
		payments.POST("/:id/process", paymentHandler.ProcessPayment)
		payments.POST("/:id/refund", paymentHandler.RefundPayment)
	}
	customers := v1.Group("/customers", jwtAuth)
	{
		customers.GET("/:id/payments", paymentHandler.ListCustomerPayments)
	}

	// --- Operational routes ---
	adminHandler := NewAdminHandler(deps.Orchestrator, deps.Recoverer, deps.Cleaner)
	admin := v1.Group("/admin", jwtAuth)
	{
		admin.GET("/metrics", adminHandler.GetMetrics)
		admin.GET("/breakers", adminHandler.GetBreakers)
		admin.POST("/recovery", adminHandler.TriggerRecovery)
		admin.POST("/cleanup", adminHandler.TriggerCleanup)
	}

	return r
}
