package handler

import (
	"context"
	"net/http"

	"payment-orchestration-core/internal/adapter/http/dto"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/internal/service"
	"payment-orchestration-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminOrchestrator is the slice of the orchestration service the admin
// endpoints need.
type AdminOrchestrator interface {
	GetMetrics() map[string]service.GatewayMetrics
	GetHealthSummary() map[string]service.BreakerHealth
	TotalRetries() int64
}

// Recoverer settles payments left in flight by a crash.
type Recoverer interface {
	RecoverInFlight(ctx context.Context) (service.RecoveryReport, error)
}

// Cleaner sweeps expired idempotency records.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// AdminHandler handles operational endpoints.
type AdminHandler struct {
	orch      AdminOrchestrator
	recoverer Recoverer
	cleaner   Cleaner
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(orch AdminOrchestrator, recoverer Recoverer, cleaner Cleaner) *AdminHandler {
	return &AdminHandler{orch: orch, recoverer: recoverer, cleaner: cleaner}
}

// GetMetrics handles GET /api/v1/admin/metrics.
func (h *AdminHandler) GetMetrics(c *gin.Context) {
	response.OK(c, gin.H{
		"gateways":      h.orch.GetMetrics(),
		"total_retries": h.orch.TotalRetries(),
	})
}

// GetBreakers handles GET /api/v1/admin/breakers.
func (h *AdminHandler) GetBreakers(c *gin.Context) {
	response.OK(c, h.orch.GetHealthSummary())
}

// TriggerRecovery handles POST /api/v1/admin/recovery.
func (h *AdminHandler) TriggerRecovery(c *gin.Context) {
	report, err := h.recoverer.RecoverInFlight(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.RecoveryResponse{
		Scanned:    report.Scanned,
		InFlight:   report.InFlight,
		Recovered:  report.Recovered,
		StillOpen:  report.StillOpen,
		Unresolved: report.Unresolved,
	})
}

// TriggerCleanup handles POST /api/v1/admin/cleanup.
func (h *AdminHandler) TriggerCleanup(c *gin.Context) {
	removed, err := h.cleaner.Cleanup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.CleanupResponse{Removed: removed})
}

// HealthCheck pings every infrastructure dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
