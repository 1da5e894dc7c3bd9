package ratelimit

import (
	"math"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// LeakyBucket admits a request only while the queued level plus the request
// fits in capacity. The level drains continuously at leakRate per second.
type LeakyBucket struct {
	capacity int
	leakRate float64
	clock    Clock
	states   *keyedState[leakyState]
}

type leakyState struct {
	level    float64
	lastLeak time.Time
}

func NewLeakyBucket(capacity int, leakRate float64, clock Clock) *LeakyBucket {
	return &LeakyBucket{
		capacity: capacity,
		leakRate: leakRate,
		clock:    clock,
		states: newKeyedState(func(now time.Time) leakyState {
			return leakyState{lastLeak: now}
		}),
	}
}

func (l *LeakyBucket) leak(s *leakyState, now time.Time) {
	elapsed := now.Sub(s.lastLeak).Seconds()
	if elapsed <= 0 {
		return
	}
	s.level = math.Max(0, s.level-elapsed*l.leakRate)
	s.lastLeak = now
}

func (l *LeakyBucket) Allow(key string) bool {
	now := l.clock()

	allowed := false
	l.states.with(key, now, func(s *leakyState) {
		l.leak(s, now)
		if s.level+1 <= float64(l.capacity) {
			s.level++
			allowed = true
		}
	})
	return allowed
}

func (l *LeakyBucket) level(key string) float64 {
	e, ok := l.states.peek(key)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	l.leak(&e.state, l.clock())
	return e.state.level
}

func (l *LeakyBucket) Remaining(key string) int {
	return max(0, int(math.Floor(float64(l.capacity)-l.level(key))))
}

// Seconds until the bucket has fully drained
func (l *LeakyBucket) ResetSeconds(key string) int {
	level := l.level(key)
	if level <= 0 {
		return 0
	}
	return int(math.Ceil(level / l.leakRate))
}

func (l *LeakyBucket) Reset(key string) {
	l.states.remove(key)
}

func (l *LeakyBucket) ResetAll() {
	l.states.clear()
}

// Only fully drained buckets are evicted
func (l *LeakyBucket) Evict(idleSince time.Time) int {
	return l.states.evict(idleSince, l.clock(), func(s *leakyState, now time.Time) bool {
		l.leak(s, now)
		return s.level <= 0
	})
}

func (l *LeakyBucket) Len() int {
	return l.states.len()
}

func (l *LeakyBucket) Limit() int {
	return l.capacity
}

func (l *LeakyBucket) Algorithm() models.Algorithm {
	return models.LeakyBucket
}
