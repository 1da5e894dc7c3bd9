package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/coordination"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/override"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type Admission interface {
	CheckRateLimit(ctx context.Context, path, identifier string, limitType models.LimitType, headers map[string]string) (*models.RateLimitDecision, error)
}

type RateLimitOptions struct {
	// Checked in order; the first rejection ends the request
	LimitTypes []models.LimitType

	// Header whose value identifies callers for header-typed rules
	LimitHeader string

	// Path matched against rules. Default: the request URL path
	Path func(c *gin.Context) string
}

// ForwardedPath reads the original request path a reverse proxy sends to
// an auth subrequest (X-Forwarded-Uri, then X-Original-URI), falling back
// to the request's own path.
func ForwardedPath(c *gin.Context) string {
	for _, name := range []string{"X-Forwarded-Uri", "X-Original-URI"} {
		if uri := c.GetHeader(name); uri != "" {
			if i := strings.IndexAny(uri, "?#"); i >= 0 {
				uri = uri[:i]
			}
			return uri
		}
	}
	return c.Request.URL.Path
}

// RateLimit admits the request against every configured limit type and
// reports the tightest remaining quota in the X-RateLimit-* headers.
func RateLimit(svc Admission, opts RateLimitOptions) gin.HandlerFunc {
	if len(opts.LimitTypes) == 0 {
		opts.LimitTypes = models.LimitTypes()
	}
	if opts.Path == nil {
		opts.Path = func(c *gin.Context) string { return c.Request.URL.Path }
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		path := opts.Path(c)
		headers := override.FromHTTP(c.Request.Header)

		var tightest *models.RateLimitDecision
		for _, limitType := range opts.LimitTypes {
			identifier := identifierFor(c, limitType, opts.LimitHeader)
			if identifier == "" {
				continue
			}

			decision, err := svc.CheckRateLimit(ctx, path, identifier, limitType, headers)

			var exceeded *service.QuotaExceededError
			switch {
			case errors.As(err, &exceeded):
				setRateLimitHeaders(c, decision)
				c.Header("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":       "Rate limit exceeded",
					"rule":        exceeded.RuleID,
					"limit":       exceeded.Limit,
					"retry_after": exceeded.RetryAfterSeconds,
				})
				return
			case errors.Is(err, coordination.ErrStoreUnavailable):
				c.Header("Retry-After", "1")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "Rate limit service unavailable",
				})
				return
			case err != nil:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Rate limit check failed",
				})
				return
			}

			if decision.Limit >= 0 && (tightest == nil || decision.Remaining < tightest.Remaining) {
				tightest = decision
			}
		}

		if tightest != nil {
			setRateLimitHeaders(c, tightest)
		}
		c.Next()
	}
}

func identifierFor(c *gin.Context, limitType models.LimitType, limitHeader string) string {
	switch limitType {
	case models.LimitByIP:
		return c.ClientIP()
	case models.LimitByAPIKey:
		return c.GetString(ContextAPIKeyID)
	case models.LimitByUser:
		return c.GetString(ContextUserID)
	case models.LimitByHeader:
		if limitHeader == "" {
			return ""
		}
		return c.GetHeader(limitHeader)
	default:
		return ""
	}
}

func setRateLimitHeaders(c *gin.Context, d *models.RateLimitDecision) {
	if d == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(d.ResetSeconds)*time.Second).Unix(), 10))
	if d.Algorithm != "" {
		c.Header("X-RateLimit-Algorithm", string(d.Algorithm))
	}
}
