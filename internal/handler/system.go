package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Handles system-related endpoints
type SystemHandler struct {
	registry *ratelimit.Registry
	store    *rules.Store
	breaker  *circuitbreaker.Breaker // nil without a coordination store
}

func NewSystemHandler(registry *ratelimit.Registry, store *rules.Store, breaker *circuitbreaker.Breaker) *SystemHandler {
	return &SystemHandler{registry: registry, store: store, breaker: breaker}
}

// Returns rule counts, tracked limiter keys and the coordination breaker state
func (h *SystemHandler) Status(c *gin.Context) {
	status := gin.H{
		"gateway":   "running",
		"rules":     len(h.store.ListRules()),
		"limiters":  h.registry.Stats(),
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	}
	if h.breaker != nil {
		status["coordination_breaker"] = h.breaker.Metrics()
	}

	c.JSON(http.StatusOK, status)
}

// Manually closes the coordination circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No coordination store configured"})
		return
	}

	h.breaker.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Circuit breaker reset successfully"})
}
