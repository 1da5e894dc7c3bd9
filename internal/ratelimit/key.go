package ratelimit

import "github.com/aman-churiwal/admission-gateway/internal/models"

// Returns the base limiter key for an identifier under a rule
func LimiterKey(ruleID string, limitType models.LimitType, identifier string) string {
	return ruleID + ":" + string(limitType) + ":" + identifier
}

// Key suffix isolating a consumer override's quota
func ConsumerSuffix(consumerID string) string {
	return ":c:" + consumerID
}

// Key suffix isolating a header-value limit's quota
func HeaderSuffix(value string) string {
	return ":hdr:" + value
}
