package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
)

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := New(nil)
	if err := s.Add(Job{Name: "bad", Schedule: "every tuesday", Run: func(context.Context) error { return nil }}); err == nil {
		t.Error("expected schedule parse error")
	}
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	if err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	s.Stop()

	if runs.Load() == 0 {
		t.Error("job never ran")
	}
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

type gauge struct{ keys map[string]int }

func (g *gauge) ResetTrackedKeys()               { g.keys = map[string]int{} }
func (g *gauge) SetTrackedKeys(rule string, n int) { g.keys[rule] = n }

func TestSweepJob(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	registry := ratelimit.NewRegistry(func() time.Time { return now })
	limiter, _ := registry.Limiter("r", "", models.Quota{Algorithm: models.FixedWindow, MaxRequests: 5, WindowSeconds: 60})
	limiter.Allow("a")
	limiter.Allow("b")

	g := &gauge{}
	job := SweepJob("@every 1m", registry, time.Minute, g, slog.Default())
	_ = job.Run(context.Background())
	if g.keys["r"] != 2 {
		t.Errorf("tracked keys = %v", g.keys)
	}

	now = now.Add(2 * time.Minute)
	_ = job.Run(context.Background())
	if g.keys["r"] != 0 {
		t.Errorf("idle keys should be evicted, tracked = %v", g.keys)
	}
}

type lister struct {
	rules []models.RateLimitRule
	err   error
}

func (l lister) List(context.Context) ([]models.RateLimitRule, error) { return l.rules, l.err }

type observer struct {
	reloads []error
	loaded  int
}

func (o *observer) ObserveRuleReload(_ string, err error) { o.reloads = append(o.reloads, err) }
func (o *observer) SetRulesLoaded(n int)                  { o.loaded = n }

func TestRefreshJob(t *testing.T) {
	store := rules.NewStore(rules.ValidateOptions{})
	obs := &observer{}
	dbRule := models.RateLimitRule{
		ID: "db", PathPattern: "/db", LimitType: models.LimitByIP, Algorithm: models.SlidingWindow,
		WindowSeconds: 10, MaxRequests: 10, Enabled: true,
	}

	job := RefreshJob("@every 30s", lister{rules: []models.RateLimitRule{dbRule}}, store, obs)
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Find("db"); !ok || obs.loaded != 1 {
		t.Errorf("rule not loaded, observer = %+v", obs)
	}

	failing := RefreshJob("@every 30s", lister{err: errors.New("db down")}, store, obs)
	if err := failing.Run(context.Background()); err == nil {
		t.Error("expected error")
	}
	if _, ok := store.Find("db"); !ok {
		t.Error("failed refresh must keep existing rules")
	}
}
