package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// FixedWindow counts admissions per epoch-aligned window. Each key's counter
// is swapped with compare-and-swap so the counter and window start always move
// together; a denied request never commits its increment.
//
// Boundary bursts of up to 2x limit across adjacent windows are inherent.
type FixedWindow struct {
	limit  int
	window time.Duration
	clock  Clock
	states *keyedState[*atomic.Pointer[windowCounter]]
}

type windowCounter struct {
	start int64 // unix millis
	count int
}

// Installed in a counter once its key is evicted; Allow then looks the key up again
var evictedCounter = &windowCounter{start: -1}

func NewFixedWindow(limit int, window time.Duration, clock Clock) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		states: newKeyedState(func(time.Time) *atomic.Pointer[windowCounter] {
			return new(atomic.Pointer[windowCounter])
		}),
	}
}

func (f *FixedWindow) windowStart(now time.Time) int64 {
	size := f.window.Milliseconds()
	return (now.UnixMilli() / size) * size
}

func (f *FixedWindow) Allow(key string) bool {
	now := f.clock()
	start := f.windowStart(now)

	counter := f.states.get(key, now).state
	for {
		current := counter.Load()
		if current == evictedCounter {
			counter = f.states.get(key, now).state
			continue
		}
		next := &windowCounter{start: start, count: 1}
		if current != nil && current.start == start {
			next.count = current.count + 1
		}
		if next.count > f.limit {
			return false
		}
		if counter.CompareAndSwap(current, next) {
			return true
		}
	}
}

func (f *FixedWindow) Remaining(key string) int {
	e, ok := f.states.peek(key)
	if !ok {
		return f.limit
	}

	current := e.state.Load()
	if current == nil || current.start != f.windowStart(f.clock()) {
		return f.limit
	}
	return max(0, f.limit-current.count)
}

// Seconds until the current window ends
func (f *FixedWindow) ResetSeconds(key string) int {
	now := f.clock()
	end := f.windowStart(now) + f.window.Milliseconds()
	return ceilSeconds(time.Duration(end-now.UnixMilli()) * time.Millisecond)
}

func (f *FixedWindow) Reset(key string) {
	f.states.remove(key)
}

func (f *FixedWindow) ResetAll() {
	f.states.clear()
}

// Only keys whose counter belongs to an earlier window are evicted
func (f *FixedWindow) Evict(idleSince time.Time) int {
	return f.states.evict(idleSince, f.clock(), func(counter **atomic.Pointer[windowCounter], now time.Time) bool {
		current := (*counter).Load()
		if current != nil && current.start == f.windowStart(now) {
			return false
		}
		return (*counter).CompareAndSwap(current, evictedCounter)
	})
}

func (f *FixedWindow) Len() int {
	return f.states.len()
}

func (f *FixedWindow) Limit() int {
	return f.limit
}

func (f *FixedWindow) Algorithm() models.Algorithm {
	return models.FixedWindow
}
