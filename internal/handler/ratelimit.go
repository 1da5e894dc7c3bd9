package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/admission-gateway/internal/coordination"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type AdmissionAPI interface {
	CheckRateLimit(ctx context.Context, path, identifier string, limitType models.LimitType, headers map[string]string) (*models.RateLimitDecision, error)
	GetRateLimitInfo(ctx context.Context, path, identifier string, limitType models.LimitType, headers map[string]string) (*models.RateLimitInfo, error)
	Reset(ctx context.Context, ruleID, identifier string) error
	ResetAll(ctx context.Context) error
}

// Exposes admission decisions to callers that enforce limits themselves
type RateLimitHandler struct {
	service AdmissionAPI
}

func NewRateLimitHandler(service AdmissionAPI) *RateLimitHandler {
	return &RateLimitHandler{service: service}
}

func parseLimitType(c *gin.Context, raw string) (models.LimitType, bool) {
	limitType, ok := models.ParseLimitType(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown limit_type " + strconv.Quote(raw)})
	}
	return limitType, ok
}

func storeUnavailable(c *gin.Context, err error) bool {
	if !errors.Is(err, coordination.ErrStoreUnavailable) {
		return false
	}
	c.Header("Retry-After", "1")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limit service unavailable"})
	return true
}

// Consumes one unit and returns the decision; 429 when rejected
func (h *RateLimitHandler) Check(c *gin.Context) {
	var req struct {
		Path       string            `json:"path" binding:"required"`
		Identifier string            `json:"identifier" binding:"required"`
		LimitType  string            `json:"limit_type" binding:"required"`
		Headers    map[string]string `json:"headers"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limitType, ok := parseLimitType(c, req.LimitType)
	if !ok {
		return
	}

	decision, err := h.service.CheckRateLimit(c.Request.Context(), req.Path, req.Identifier, limitType, req.Headers)

	var exceeded *service.QuotaExceededError
	switch {
	case errors.As(err, &exceeded):
		c.Header("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, decision)
	case storeUnavailable(c, err):
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, decision)
	}
}

// Reports quota without consuming it
func (h *RateLimitHandler) Info(c *gin.Context) {
	path := c.Query("path")
	identifier := c.Query("identifier")
	if path == "" || identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and identifier are required"})
		return
	}
	limitType, ok := parseLimitType(c, c.DefaultQuery("limit_type", string(models.LimitByIP)))
	if !ok {
		return
	}

	headers := map[string]string{}
	for _, name := range c.QueryArray("header") {
		if k, v, found := cutHeader(name); found {
			headers[k] = v
		}
	}

	info, err := h.service.GetRateLimitInfo(c.Request.Context(), path, identifier, limitType, headers)
	if storeUnavailable(c, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// Splits "Name:value" query parameters
func cutHeader(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], i > 0
		}
	}
	return "", "", false
}

func (h *RateLimitHandler) Reset(c *gin.Context) {
	var req struct {
		RuleID     string `json:"rule_id" binding:"required"`
		Identifier string `json:"identifier" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.service.Reset(c.Request.Context(), req.RuleID, req.Identifier)
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
	case storeUnavailable(c, err):
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":    "Rate limit reset successfully",
			"rule_id":    req.RuleID,
			"identifier": req.Identifier,
		})
	}
}

func (h *RateLimitHandler) ResetAll(c *gin.Context) {
	err := h.service.ResetAll(c.Request.Context())
	if storeUnavailable(c, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All rate limits reset successfully"})
}
