package ratelimit

import (
	"math"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// TokenBucket admits bursts up to capacity and refills continuously at rate
// tokens per second. New keys start with a full bucket.
type TokenBucket struct {
	capacity   int     // Total capacity of the bucket
	refillRate float64 // Tokens per second
	clock      Clock
	states     *keyedState[bucketState]
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

func NewTokenBucket(capacity int, refillRate float64, clock Clock) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		clock:      clock,
		states: newKeyedState(func(now time.Time) bucketState {
			return bucketState{tokens: float64(capacity), lastRefill: now}
		}),
	}
}

func (t *TokenBucket) refill(s *bucketState, now time.Time) {
	elapsed := now.Sub(s.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	s.tokens = math.Min(float64(t.capacity), s.tokens+elapsed*t.refillRate)
	s.lastRefill = now
}

func (t *TokenBucket) Allow(key string) bool {
	now := t.clock()

	allowed := false
	t.states.with(key, now, func(s *bucketState) {
		t.refill(s, now)
		if s.tokens >= 1 {
			s.tokens--
			allowed = true
		}
	})
	return allowed
}

// Returns the refilled token count without consuming
func (t *TokenBucket) tokens(key string) float64 {
	e, ok := t.states.peek(key)
	if !ok {
		return float64(t.capacity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t.refill(&e.state, t.clock())
	return e.state.tokens
}

func (t *TokenBucket) Remaining(key string) int {
	return int(math.Floor(t.tokens(key)))
}

// Seconds until at least one token is available
func (t *TokenBucket) ResetSeconds(key string) int {
	missing := 1 - t.tokens(key)
	if missing <= 0 {
		return 0
	}
	return int(math.Ceil(missing / t.refillRate))
}

func (t *TokenBucket) Reset(key string) {
	t.states.remove(key)
}

func (t *TokenBucket) ResetAll() {
	t.states.clear()
}

// Only buckets that have refilled to capacity are evicted
func (t *TokenBucket) Evict(idleSince time.Time) int {
	return t.states.evict(idleSince, t.clock(), func(s *bucketState, now time.Time) bool {
		t.refill(s, now)
		return s.tokens >= float64(t.capacity)
	})
}

func (t *TokenBucket) Len() int {
	return t.states.len()
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Algorithm() models.Algorithm {
	return models.TokenBucket
}
