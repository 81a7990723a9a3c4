package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/npai/quota-engine/internal/healthcheck"
	"github.com/npai/quota-engine/internal/penalty"
	"github.com/npai/quota-engine/internal/ratelimit"
	"github.com/npai/quota-engine/internal/service"
)

// Handles the health and status surface
type SystemHandler struct {
	checker   *healthcheck.Checker
	counters  *ratelimit.FailoverStore
	penalties *penalty.Engine
	analytics *service.AnalyticsService
	started   time.Time
}

func NewSystemHandler(checker *healthcheck.Checker, counters *ratelimit.FailoverStore, penalties *penalty.Engine, analytics *service.AnalyticsService) *SystemHandler {
	return &SystemHandler{
		checker:   checker,
		counters:  counters,
		penalties: penalties,
		analytics: analytics,
		started:   time.Now(),
	}
}

// Handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	backends := h.checker.Snapshot()

	status := "healthy"
	statusCode := http.StatusOK

	if h.counters.FallbackActive() {
		status = "degraded"
	}
	for _, backend := range backends {
		if !backend.IsHealthy {
			status = "degraded"
		}
	}
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":          status,
		"service":         "quota-engine",
		"fallback_active": h.counters.FallbackActive(),
		"timestamp":       time.Now().Unix(),
		"checks":          backends,
	})
}

// Handles GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	overview, err := h.analytics.Overview(ctx, 24)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"engine":          "running",
		"uptime_seconds":  int(time.Since(h.started).Seconds()),
		"fallback_active": h.counters.FallbackActive(),
		"penalties":       h.penalties.Snapshot(),
		"blocks_24h":      overview,
		"timestamp":       time.Now().Unix(),
	})
}
