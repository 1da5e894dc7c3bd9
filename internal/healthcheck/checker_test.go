package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeDep struct {
	fail atomic.Bool
}

func (f *fakeDep) Ping(context.Context) error {
	if f.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	redis, db := &fakeDep{}, &fakeDep{}
	c := NewChecker(Config{MaxFailures: 2})
	c.Register("redis", redis)
	c.Register("database", db)

	ctx := context.Background()
	c.CheckAll(ctx)
	if got := c.OverallHealth(); got != Healthy {
		t.Fatalf("OverallHealth = %s, want healthy", got)
	}

	redis.fail.Store(true)
	c.CheckAll(ctx)
	if got := c.OverallHealth(); got != Healthy {
		t.Errorf("one failure should not flip health, got %s", got)
	}

	c.CheckAll(ctx)
	if got := c.OverallHealth(); got != Degraded {
		t.Errorf("OverallHealth = %s, want degraded", got)
	}
	status, ok := c.GetStatus("redis")
	if !ok || status.IsHealthy || status.FailureCount != 2 || status.LastError == "" {
		t.Errorf("redis status = %+v", status)
	}

	db.fail.Store(true)
	c.CheckAll(ctx)
	c.CheckAll(ctx)
	if got := c.OverallHealth(); got != Unhealthy {
		t.Errorf("OverallHealth = %s, want unhealthy", got)
	}

	redis.fail.Store(false)
	c.CheckAll(ctx)
	status, _ = c.GetStatus("redis")
	if !status.IsHealthy || status.FailureCount != 0 {
		t.Errorf("redis should recover, status = %+v", status)
	}
}

func TestChecker_NoDependencies(t *testing.T) {
	c := NewChecker(Config{})
	if got := c.OverallHealth(); got != Healthy {
		t.Errorf("OverallHealth = %s", got)
	}
	if len(c.GetAllStatus()) != 0 {
		t.Error("expected no statuses")
	}
}

func TestChecker_StartStop(t *testing.T) {
	dep := &fakeDep{}
	c := NewChecker(Config{})
	c.Register("redis", dep)
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()

	statuses := c.GetAllStatus()
	if len(statuses) != 1 || statuses[0].LastSuccess.IsZero() {
		t.Errorf("initial check should have run, statuses = %+v", statuses)
	}
}
