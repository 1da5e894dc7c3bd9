package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLeakyBucket_CapacityAndDrain(t *testing.T) {
	clock := newManualClock()
	lb := NewLeakyBucket(3, 1, clock.Now)

	for i := 0; i < 3; i++ {
		if !lb.Allow("k") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if lb.Allow("k") {
		t.Fatal("bucket at capacity should deny")
	}
	if got := lb.ResetSeconds("k"); got != 3 {
		t.Errorf("ResetSeconds = %d, want 3", got)
	}

	clock.Advance(time.Second)
	if got := lb.Remaining("k"); got != 1 {
		t.Errorf("Remaining after 1s = %d, want 1", got)
	}
	if !lb.Allow("k") {
		t.Error("one slot should have leaked")
	}
	if lb.Allow("k") {
		t.Error("bucket should be full again")
	}
}

func TestLeakyBucket_PartialLeakDoesNotAdmit(t *testing.T) {
	clock := newManualClock()
	lb := NewLeakyBucket(2, 1, clock.Now)

	lb.Allow("k")
	lb.Allow("k")
	clock.Advance(500 * time.Millisecond)

	if lb.Allow("k") {
		t.Error("level 1.5 plus one request exceeds capacity 2")
	}
	if got := lb.Remaining("k"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestLeakyBucket_EmptyKey(t *testing.T) {
	lb := NewLeakyBucket(4, 2, newManualClock().Now)

	if got := lb.Remaining("x"); got != 4 {
		t.Errorf("Remaining = %d, want 4", got)
	}
	if got := lb.ResetSeconds("x"); got != 0 {
		t.Errorf("ResetSeconds = %d, want 0", got)
	}
}

func TestLeakyBucket_ConcurrentAllowNeverExceedsCapacity(t *testing.T) {
	lb := NewLeakyBucket(100, 1, newManualClock().Now)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if lb.Allow("shared") {
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
