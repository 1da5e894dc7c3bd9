package ratelimit

import (
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

func fixedQuota(max int) models.Quota {
	return models.Quota{Algorithm: models.FixedWindow, MaxRequests: max, WindowSeconds: 60}
}

func TestRegistry_ReusesLimiterForSameQuota(t *testing.T) {
	r := NewRegistry(newManualClock().Now)

	a, err := r.Limiter("rule", "", fixedQuota(5))
	if err != nil {
		t.Fatalf("Limiter: %v", err)
	}
	b, _ := r.Limiter("rule", "", fixedQuota(5))
	if a != b {
		t.Error("same rule variant and quota should share a limiter")
	}

	c, _ := r.Limiter("rule", ConsumerSuffix("gold"), fixedQuota(50))
	if a == c {
		t.Error("override variant must not share the default limiter")
	}
}

func TestRegistry_QuotaChangeReplacesLimiter(t *testing.T) {
	r := NewRegistry(newManualClock().Now)

	a, _ := r.Limiter("rule", "", fixedQuota(1))
	a.Allow("k")

	b, _ := r.Limiter("rule", "", fixedQuota(2))
	if a == b {
		t.Fatal("changed quota should build a new limiter")
	}
	if got := b.Remaining("k"); got != 2 {
		t.Errorf("Remaining = %d, want 2", got)
	}
}

func TestRegistry_InvalidQuota(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Limiter("rule", "", models.Quota{Algorithm: "bogus", MaxRequests: 1, WindowSeconds: 1}); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestRegistry_ResetCoversVariants(t *testing.T) {
	r := NewRegistry(newManualClock().Now)
	base := LimiterKey("rule", models.LimitByIP, "10.0.0.1")

	def, _ := r.Limiter("rule", "", fixedQuota(1))
	gold, _ := r.Limiter("rule", ConsumerSuffix("gold"), fixedQuota(1))
	other, _ := r.Limiter("other", "", fixedQuota(1))

	def.Allow(base)
	gold.Allow(base + ConsumerSuffix("gold"))
	other.Allow(base)

	r.Reset("rule", base)

	if def.Remaining(base) != 1 || gold.Remaining(base+ConsumerSuffix("gold")) != 1 {
		t.Error("Reset should clear every variant of the rule")
	}
	if other.Remaining(base) != 0 {
		t.Error("Reset must not touch other rules")
	}

	r.ResetAll()
	if other.Remaining(base) != 1 {
		t.Error("ResetAll should clear every rule")
	}
}

func TestRegistry_SweepAndStats(t *testing.T) {
	clock := newManualClock()
	r := NewRegistry(clock.Now)

	l, _ := r.Limiter("rule", "", fixedQuota(10))
	l.Allow("old")
	clock.Advance(10 * time.Minute)
	l.Allow("fresh")

	if got := r.Stats()["rule"].Keys; got != 2 {
		t.Fatalf("Keys = %d, want 2", got)
	}
	if got := r.Sweep(5 * time.Minute); got != 1 {
		t.Errorf("Sweep evicted %d, want 1", got)
	}
	if got := r.Stats()["rule"].Keys; got != 1 {
		t.Errorf("Keys after sweep = %d, want 1", got)
	}

	r.Invalidate("rule")
	if _, ok := r.Lookup("rule", ""); ok {
		t.Error("Invalidate should drop the rule's limiters")
	}
}

func TestRegistry_SweepKeepsLiveState(t *testing.T) {
	clock := newManualClock()
	r := NewRegistry(clock.Now)

	quotas := map[string]models.Quota{
		"sliding": {Algorithm: models.SlidingWindow, MaxRequests: 3, WindowSeconds: 3600},
		"fixed":   {Algorithm: models.FixedWindow, MaxRequests: 3, WindowSeconds: 3600},
		"token":   {Algorithm: models.TokenBucket, MaxRequests: 3, WindowSeconds: 3600},
		"leaky":   {Algorithm: models.LeakyBucket, MaxRequests: 3, WindowSeconds: 3600},
	}
	limiters := make(map[string]Limiter)
	for name, q := range quotas {
		l, err := r.Limiter(name, "", q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for i := 0; i < 3; i++ {
			l.Allow("k")
		}
		limiters[name] = l
	}

	// idle past the TTL but well inside the hour-long window
	clock.Advance(11 * time.Minute)
	if got := r.Sweep(10 * time.Minute); got != 0 {
		t.Fatalf("Sweep evicted %d live keys", got)
	}
	for name, l := range limiters {
		if l.Allow("k") {
			t.Errorf("%s: quota restored by sweep", name)
		}
	}

	clock.Advance(3 * time.Hour)
	if got := r.Sweep(10 * time.Minute); got != 4 {
		t.Errorf("Sweep evicted %d settled keys, want 4", got)
	}
	for name, l := range limiters {
		if got := l.Len(); got != 0 {
			t.Errorf("%s: Len = %d after sweep", name, got)
		}
		if !l.Allow("k") {
			t.Errorf("%s: evicted key should start fresh", name)
		}
	}
}

func TestLimiterKey(t *testing.T) {
	got := LimiterKey("r1", models.LimitByAPIKey, "abc") + HeaderSuffix("premium")
	if want := "r1:api_key:abc:hdr:premium"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestLimiterKey_VariantsDoNotCollide(t *testing.T) {
	plain := LimiterKey("r1", models.LimitByUser, "alice:premium")
	consumer := LimiterKey("r1", models.LimitByUser, "alice") + ConsumerSuffix("premium")
	header := LimiterKey("r1", models.LimitByUser, "alice") + HeaderSuffix("premium")

	if plain == consumer || plain == header || consumer == header {
		t.Errorf("keys collide: %q %q %q", plain, consumer, header)
	}
}
