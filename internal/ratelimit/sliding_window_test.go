package ratelimit

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSlidingWindow_TrailingWindow(t *testing.T) {
	clock := newManualClock()
	sw := NewSlidingWindow(2, 10*time.Second, clock.Now)

	if !sw.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	clock.Advance(4 * time.Second)
	if !sw.Allow("k") {
		t.Fatal("second request should be allowed")
	}
	if sw.Allow("k") {
		t.Fatal("third request within window should be denied")
	}
	if got := sw.ResetSeconds("k"); got != 6 {
		t.Errorf("ResetSeconds = %d, want 6", got)
	}

	clock.Advance(6 * time.Second)
	if got := sw.Remaining("k"); got != 1 {
		t.Errorf("Remaining = %d, want 1 once the first admission expires", got)
	}
	if !sw.Allow("k") {
		t.Error("request should be allowed after oldest leaves window")
	}
	if sw.Allow("k") {
		t.Error("window is full again")
	}
}

func TestSlidingWindow_NoBoundaryBurst(t *testing.T) {
	clock := newManualClock()
	sw := NewSlidingWindow(3, 10*time.Second, clock.Now)

	clock.Advance(9 * time.Second)
	for i := 0; i < 3; i++ {
		sw.Allow("k")
	}
	clock.Advance(2 * time.Second)

	if sw.Allow("k") {
		t.Error("sliding window must not reset at fixed boundaries")
	}
}

func TestSlidingWindow_UnknownKey(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute, newManualClock().Now)

	if got := sw.Remaining("x"); got != 5 {
		t.Errorf("Remaining = %d, want 5", got)
	}
	if got := sw.ResetSeconds("x"); got != 0 {
		t.Errorf("ResetSeconds = %d, want 0", got)
	}
}

func TestSlidingWindow_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	sw := NewSlidingWindow(100, time.Minute, newManualClock().Now)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if sw.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 100 {
		t.Errorf("allowed = %d, want 100", got)
	}
}

func TestSlidingWindow_RandomTiming(t *testing.T) {
	const limit = 5
	const window = 10 * time.Second

	clock := newManualClock()
	sw := NewSlidingWindow(limit, window, clock.Now)
	rng := rand.New(rand.NewPCG(42, 7))

	var admitted []time.Time
	inWindow := func(now time.Time) int {
		n := 0
		for _, at := range admitted {
			if at.After(now.Add(-window)) && !at.After(now) {
				n++
			}
		}
		return n
	}

	for i := 0; i < 2000; i++ {
		clock.Advance(time.Duration(rng.IntN(3000)) * time.Millisecond)
		now := clock.Now()

		before := inWindow(now)
		if sw.Allow("k") {
			if before >= limit {
				t.Fatalf("step %d: admitted with %d already in the trailing window", i, before)
			}
			admitted = append(admitted, now)
		} else if before < limit {
			t.Fatalf("step %d: denied with only %d in the trailing window", i, before)
		}
	}

	if len(admitted) == 0 {
		t.Fatal("nothing admitted")
	}
}
