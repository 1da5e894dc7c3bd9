package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// Builds the in-memory limiter for a quota
func NewLimiter(quota models.Quota, clock Clock) (Limiter, error) {
	if !quota.Valid() {
		return nil, fmt.Errorf("ratelimit: invalid quota %+v", quota)
	}
	if clock == nil {
		clock = time.Now
	}

	window := time.Duration(quota.WindowSeconds) * time.Second

	switch quota.Algorithm {
	case models.TokenBucket:
		return NewTokenBucket(quota.Capacity(), quota.Rate(), clock), nil
	case models.LeakyBucket:
		return NewLeakyBucket(quota.Capacity(), quota.Rate(), clock), nil
	case models.SlidingWindow:
		return NewSlidingWindow(quota.MaxRequests, window, clock), nil
	case models.FixedWindow:
		return NewFixedWindow(quota.MaxRequests, window, clock), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown algorithm %q", quota.Algorithm)
	}
}
