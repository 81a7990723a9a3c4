package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/npai/quota-engine/internal/gateway"
)

// CheckHandler exposes the decision gateway over HTTP for web layers
// running in a separate process.
type CheckHandler struct {
	gateway *gateway.Gateway
}

func NewCheckHandler(gw *gateway.Gateway) *CheckHandler {
	return &CheckHandler{gateway: gw}
}

// Handles POST /v1/check. The response always carries the rate-limit
// headers so the caller can copy them onto its own response verbatim.
func (h *CheckHandler) Check(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.IP == "" {
		req.IP = c.ClientIP()
	}
	if req.APIKey == "" {
		req.APIKey = c.GetHeader("X-API-Key")
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}

	verdict := h.gateway.Evaluate(c.Request.Context(), req)
	c.Set("decision", verdict.Reason)

	for name, value := range verdict.Headers {
		c.Header(name, value)
	}

	// The check call itself succeeds either way; the verdict carries
	// the status the web layer should answer with.
	c.JSON(http.StatusOK, verdict)
}
