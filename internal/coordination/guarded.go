package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// GuardedClient routes every call through a circuit breaker so a failing
// store is skipped entirely until the breaker probes it again.
type GuardedClient struct {
	next    Client
	breaker *circuitbreaker.Breaker
}

func NewGuardedClient(next Client, breaker *circuitbreaker.Breaker) *GuardedClient {
	return &GuardedClient{next: next, breaker: breaker}
}

func (g *GuardedClient) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}

func guard[T any](g *GuardedClient, fn func() (T, error)) (T, error) {
	var result T
	err := g.breaker.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrProbeLimit) {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return result, err
}

func (g *GuardedClient) AllowTokenBucket(ctx context.Context, key string, capacity int, refillRate float64) (bool, error) {
	return guard(g, func() (bool, error) { return g.next.AllowTokenBucket(ctx, key, capacity, refillRate) })
}

func (g *GuardedClient) AllowLeakyBucket(ctx context.Context, key string, capacity int, leakRate float64) (bool, error) {
	return guard(g, func() (bool, error) { return g.next.AllowLeakyBucket(ctx, key, capacity, leakRate) })
}

func (g *GuardedClient) AllowSlidingWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error) {
	return guard(g, func() (bool, error) { return g.next.AllowSlidingWindow(ctx, key, maxRequests, windowSeconds) })
}

func (g *GuardedClient) AllowFixedWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error) {
	return guard(g, func() (bool, error) { return g.next.AllowFixedWindow(ctx, key, maxRequests, windowSeconds) })
}

func (g *GuardedClient) Remaining(ctx context.Context, key string, maxRequests int) (int, error) {
	return guard(g, func() (int, error) { return g.next.Remaining(ctx, key, maxRequests) })
}

func (g *GuardedClient) TimeToLive(ctx context.Context, key string, algorithm models.Algorithm) (int, error) {
	return guard(g, func() (int, error) { return g.next.TimeToLive(ctx, key, algorithm) })
}

func (g *GuardedClient) Reset(ctx context.Context, key string) error {
	_, err := guard(g, func() (struct{}, error) { return struct{}{}, g.next.Reset(ctx, key) })
	return err
}

// Administrative; bypasses the breaker so operators can clear state while it is open
func (g *GuardedClient) ResetAll(ctx context.Context) error {
	return g.next.ResetAll(ctx)
}

func (g *GuardedClient) Ping(ctx context.Context) error {
	_, err := guard(g, func() (struct{}, error) { return struct{}{}, g.next.Ping(ctx) })
	return err
}
