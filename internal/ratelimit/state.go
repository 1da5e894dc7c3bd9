package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type entry[S any] struct {
	mu       sync.Mutex
	state    S
	lastSeen atomic.Int64
	evicted  bool // guarded by mu
}

func (e *entry[S]) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

// keyedState maps limiter keys to lazily created per-key state.
// Creation is race-free: concurrent first requests for a key share one entry.
type keyedState[S any] struct {
	entries sync.Map // string -> *entry[S]
	init    func(now time.Time) S
}

func newKeyedState[S any](init func(now time.Time) S) *keyedState[S] {
	return &keyedState[S]{init: init}
}

func (k *keyedState[S]) get(key string, now time.Time) *entry[S] {
	if v, ok := k.entries.Load(key); ok {
		e := v.(*entry[S])
		e.touch(now)
		return e
	}

	fresh := &entry[S]{state: k.init(now)}
	v, _ := k.entries.LoadOrStore(key, fresh)
	e := v.(*entry[S])
	e.touch(now)
	return e
}

// Runs fn on the key's state while holding its lock, creating the state on
// first use. An entry evicted between lookup and lock is retried.
func (k *keyedState[S]) with(key string, now time.Time, fn func(s *S)) {
	for {
		e := k.get(key, now)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		fn(&e.state)
		e.mu.Unlock()
		return
	}
}

// Returns the entry for key without creating it
func (k *keyedState[S]) peek(key string) (*entry[S], bool) {
	v, ok := k.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*entry[S]), true
}

func (k *keyedState[S]) remove(key string) {
	k.entries.Delete(key)
}

func (k *keyedState[S]) clear() {
	k.entries.Clear()
}

// Drops entries untouched since idleSince whose state settled reports as
// indistinguishable from a newly created key. Keys still holding quota
// state are kept however long they have been idle.
func (k *keyedState[S]) evict(idleSince, now time.Time, settled func(s *S, now time.Time) bool) int {
	cutoff := idleSince.UnixNano()
	removed := 0
	k.entries.Range(func(key, value any) bool {
		e := value.(*entry[S])
		if e.lastSeen.Load() >= cutoff {
			return true
		}

		e.mu.Lock()
		if e.lastSeen.Load() < cutoff && settled(&e.state, now) && k.entries.CompareAndDelete(key, e) {
			e.evicted = true
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

func (k *keyedState[S]) len() int {
	n := 0
	k.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Rounds a positive duration up to whole seconds; non-positive durations are 0
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
