package ratelimit

import (
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// SlidingWindow keeps the admission timestamps of each key and admits while
// fewer than limit of them fall inside the trailing window (now-window, now].
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  Clock
	states *keyedState[windowLog]
}

type windowLog struct {
	timestamps []time.Time // ascending
}

func NewSlidingWindow(limit int, window time.Duration, clock Clock) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		states: newKeyedState(func(time.Time) windowLog {
			return windowLog{timestamps: make([]time.Time, 0, min(limit, 64))}
		}),
	}
}

// Drops timestamps at or before now-window
func (s *SlidingWindow) prune(log *windowLog, now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(log.timestamps) && !log.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		log.timestamps = append(log.timestamps[:0], log.timestamps[i:]...)
	}
}

func (s *SlidingWindow) Allow(key string) bool {
	now := s.clock()

	allowed := false
	s.states.with(key, now, func(log *windowLog) {
		s.prune(log, now)
		if len(log.timestamps) < s.limit {
			log.timestamps = append(log.timestamps, now)
			allowed = true
		}
	})
	return allowed
}

func (s *SlidingWindow) Remaining(key string) int {
	e, ok := s.states.peek(key)
	if !ok {
		return s.limit
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.prune(&e.state, s.clock())
	return max(0, s.limit-len(e.state.timestamps))
}

// Seconds until the oldest admission leaves the window
func (s *SlidingWindow) ResetSeconds(key string) int {
	e, ok := s.states.peek(key)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock()
	s.prune(&e.state, now)
	if len(e.state.timestamps) == 0 {
		return 0
	}
	return ceilSeconds(e.state.timestamps[0].Add(s.window).Sub(now))
}

func (s *SlidingWindow) Reset(key string) {
	s.states.remove(key)
}

func (s *SlidingWindow) ResetAll() {
	s.states.clear()
}

// Only keys with no admission left in the trailing window are evicted
func (s *SlidingWindow) Evict(idleSince time.Time) int {
	return s.states.evict(idleSince, s.clock(), func(log *windowLog, now time.Time) bool {
		s.prune(log, now)
		return len(log.timestamps) == 0
	})
}

func (s *SlidingWindow) Len() int {
	return s.states.len()
}

func (s *SlidingWindow) Limit() int {
	return s.limit
}

func (s *SlidingWindow) Algorithm() models.Algorithm {
	return models.SlidingWindow
}
