// Package coordination shares limiter state between gateway instances through
// a central store, so distributed rules enforce one quota cluster-wide.
package coordination

import (
	"context"
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// ErrStoreUnavailable wraps every failure to reach or evaluate against the
// coordination store. Callers decide whether to fail open or closed.
var ErrStoreUnavailable = errors.New("coordination store unavailable")

// Client evaluates admission against shared state. Every call is a bounded
// round-trip; implementations never retry internally.
type Client interface {
	AllowTokenBucket(ctx context.Context, key string, capacity int, refillRate float64) (bool, error)

	// Evaluated with the token bucket primitive using leakRate as the refill rate
	AllowLeakyBucket(ctx context.Context, key string, capacity int, leakRate float64) (bool, error)

	AllowSlidingWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error)

	AllowFixedWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error)

	// Units left for key; maxRequests when the key has no state
	Remaining(ctx context.Context, key string, maxRequests int) (int, error)

	// Seconds until key is admitted again or its window ends
	TimeToLive(ctx context.Context, key string, algorithm models.Algorithm) (int, error)

	Reset(ctx context.Context, key string) error

	// Removes every key owned by this client
	ResetAll(ctx context.Context) error

	Ping(ctx context.Context) error
}
