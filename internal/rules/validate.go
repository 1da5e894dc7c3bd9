package rules

import (
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

type ValidateOptions struct {
	// False rejects distributed rules because no coordination store is configured
	DistributedAvailable bool
}

// Validate checks a single rule and returns a *ValidationError listing every problem
func Validate(rule *models.RateLimitRule, opts ValidateOptions) error {
	verr := &ValidationError{}
	validateRule(verr, rule, opts)
	return verr.orNil()
}

// ValidateAll checks each rule and that rule IDs are unique
func ValidateAll(rules []models.RateLimitRule, opts ValidateOptions) error {
	verr := &ValidationError{}
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		validateRule(verr, &rules[i], opts)
		if id := rules[i].ID; id != "" {
			if seen[id] {
				verr.add(id, "id", "duplicate rule id")
			}
			seen[id] = true
		}
	}
	return verr.orNil()
}

func validateRule(verr *ValidationError, r *models.RateLimitRule, opts ValidateOptions) {
	id := r.ID
	if id == "" {
		verr.add("", "id", "is required")
	}

	if err := validatePattern(r.PathPattern); err != "" {
		verr.add(id, "path_pattern", "%s", err)
	}
	if _, ok := models.ParseLimitType(string(r.LimitType)); !ok {
		verr.add(id, "limit_type", "unknown limit type %q", r.LimitType)
	}
	if !r.Algorithm.Valid() {
		verr.add(id, "algorithm", "unknown algorithm %q", r.Algorithm)
	}
	if r.WindowSeconds <= 0 {
		verr.add(id, "window_seconds", "must be positive")
	}
	if r.MaxRequests <= 0 {
		verr.add(id, "max_requests", "must be positive")
	}
	if r.BurstCapacity < 0 {
		verr.add(id, "burst_capacity", "must not be negative")
	}
	if r.Algorithm.Bursting() && r.BurstCapacity > 0 && r.BurstCapacity < r.MaxRequests {
		verr.add(id, "burst_capacity", "must be at least max_requests (%d)", r.MaxRequests)
	}
	if r.RefillRate < 0 {
		verr.add(id, "refill_rate", "must not be negative")
	}
	if r.Priority < 0 {
		verr.add(id, "priority", "must not be negative")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidFrom.Before(*r.ValidUntil) {
		verr.add(id, "valid_until", "must be after valid_from")
	}
	if r.Distributed && !opts.DistributedAvailable {
		verr.add(id, "distributed", "requires a coordination store")
	}

	for consumer, o := range r.ConsumerOverrides {
		field := "consumer_overrides." + consumer
		if strings.TrimSpace(consumer) == "" {
			verr.add(id, "consumer_overrides", "consumer id must not be empty")
		}
		if o.MaxRequests <= 0 {
			verr.add(id, field+".max_requests", "must be positive")
		}
		if o.BurstCapacity < 0 {
			verr.add(id, field+".burst_capacity", "must not be negative")
		}
		if algorithm := o.QuotaFor(r).Algorithm; algorithm.Bursting() && o.BurstCapacity > 0 && o.BurstCapacity < o.MaxRequests {
			verr.add(id, field+".burst_capacity", "must be at least max_requests (%d)", o.MaxRequests)
		}
		if o.RefillRate < 0 {
			verr.add(id, field+".refill_rate", "must not be negative")
		}
		if o.Algorithm != "" && !o.Algorithm.Valid() {
			verr.add(id, field+".algorithm", "unknown algorithm %q", o.Algorithm)
		}
	}

	for value, limit := range r.HeaderLimits {
		if value == "" {
			verr.add(id, "header_limits", "header value must not be empty")
		}
		if limit <= 0 {
			verr.add(id, "header_limits."+value, "must be positive")
		}
	}
}

// Returns a message describing why pattern is malformed, or "".
// The empty pattern is valid and matches every path.
func validatePattern(pattern string) string {
	if pattern == "" {
		return ""
	}
	if !strings.HasPrefix(pattern, "/") {
		return "must start with /"
	}

	body := pattern
	switch {
	case strings.HasSuffix(pattern, "/**"):
		body = strings.TrimSuffix(pattern, "/**")
	case strings.HasSuffix(pattern, "/*"):
		body = strings.TrimSuffix(pattern, "/*")
	}
	if strings.Contains(body, "*") {
		return "wildcards are only supported as a trailing /* or /**"
	}
	return ""
}
