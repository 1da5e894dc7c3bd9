package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// Registry owns one Limiter per (rule, quota variant). Variants are the
// rule's default quota plus each consumer override and header limit, so a
// consumer with an override never shares counters with the default quota.
type Registry struct {
	sets  sync.Map // set key -> *limiterSet
	clock Clock
}

type limiterSet struct {
	ruleID  string
	variant string
	quota   models.Quota
	limiter Limiter
}

// Per-rule key counts reported by Stats
type RuleStats struct {
	RuleID   string `json:"rule_id"`
	Variants int    `json:"variants"`
	Keys     int    `json:"keys"`
}

func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{clock: clock}
}

func setKey(ruleID, variant string) string {
	return ruleID + "|" + variant
}

// Returns the limiter for a rule variant, creating it on first use. When the
// quota for the variant has changed since it was created, the limiter is
// replaced and its counters start fresh.
func (r *Registry) Limiter(ruleID, variant string, quota models.Quota) (Limiter, error) {
	k := setKey(ruleID, variant)

	for {
		existing, ok := r.sets.Load(k)
		if ok && existing.(*limiterSet).quota == quota {
			return existing.(*limiterSet).limiter, nil
		}

		limiter, err := NewLimiter(quota, r.clock)
		if err != nil {
			return nil, err
		}
		fresh := &limiterSet{ruleID: ruleID, variant: variant, quota: quota, limiter: limiter}

		if !ok {
			if actual, loaded := r.sets.LoadOrStore(k, fresh); loaded {
				if actual.(*limiterSet).quota == quota {
					return actual.(*limiterSet).limiter, nil
				}
				continue
			}
			return limiter, nil
		}
		if r.sets.CompareAndSwap(k, existing, fresh) {
			return limiter, nil
		}
	}
}

// Returns the existing limiter for a rule variant, if any
func (r *Registry) Lookup(ruleID, variant string) (Limiter, bool) {
	v, ok := r.sets.Load(setKey(ruleID, variant))
	if !ok {
		return nil, false
	}
	return v.(*limiterSet).limiter, true
}

// Resets the given base key in every variant of a rule
func (r *Registry) Reset(ruleID, baseKey string) {
	r.sets.Range(func(_, value any) bool {
		set := value.(*limiterSet)
		if set.ruleID == ruleID {
			set.limiter.Reset(baseKey + set.variant)
		}
		return true
	})
}

func (r *Registry) ResetAll() {
	r.sets.Range(func(_, value any) bool {
		value.(*limiterSet).limiter.ResetAll()
		return true
	})
}

// Drops every limiter belonging to a rule; used when a rule is deleted
func (r *Registry) Invalidate(ruleID string) {
	prefix := ruleID + "|"
	r.sets.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			r.sets.Delete(key)
		}
		return true
	})
}

// Evicts keys idle for longer than idleFor that no longer hold quota state,
// and returns the number evicted
func (r *Registry) Sweep(idleFor time.Duration) int {
	idleSince := r.clock().Add(-idleFor)
	evicted := 0
	r.sets.Range(func(_, value any) bool {
		evicted += value.(*limiterSet).limiter.Evict(idleSince)
		return true
	})
	return evicted
}

func (r *Registry) Stats() map[string]RuleStats {
	stats := make(map[string]RuleStats)
	r.sets.Range(func(_, value any) bool {
		set := value.(*limiterSet)
		s := stats[set.ruleID]
		s.RuleID = set.ruleID
		s.Variants++
		s.Keys += set.limiter.Len()
		stats[set.ruleID] = s
		return true
	})
	return stats
}
