package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/admission-gateway/internal/coordination"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/redis/go-redis/v9"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type ruleList []models.RateLimitRule

func (r ruleList) ListRules() []models.RateLimitRule { return r }

func apiRule() models.RateLimitRule {
	return models.RateLimitRule{
		ID:            "api",
		PathPattern:   "/api/**",
		LimitType:     models.LimitByIP,
		Algorithm:     models.TokenBucket,
		WindowSeconds: 10,
		MaxRequests:   3,
		Priority:      1,
		Enabled:       true,
		ConsumerOverrides: map[string]models.ConsumerOverride{
			"gold": {MaxRequests: 10},
		},
	}
}

func newLocalService(c *clock, rs ...models.RateLimitRule) *AdmissionService {
	return NewAdmissionService(Options{
		Rules:    ruleList(rs),
		Registry: ratelimit.NewRegistry(c.Now),
		Now:      c.Now,
	})
}

func TestCheckRateLimit_NoRuleAllows(t *testing.T) {
	svc := newLocalService(newClock(), apiRule())

	d, err := svc.CheckRateLimit(context.Background(), "/public", "1.2.3.4", models.LimitByIP, nil)
	if err != nil || !d.Allowed || d.Limit != -1 {
		t.Errorf("decision = %+v, err = %v", d, err)
	}
}

func TestCheckRateLimit_LocalTokenBucket(t *testing.T) {
	c := newClock()
	svc := newLocalService(c, apiRule())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if d.Remaining != 2-i {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}

	d, err := svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if d.Allowed || qe.Limit != 3 || qe.RuleID != "api" {
		t.Errorf("decision = %+v, error = %+v", d, qe)
	}
	// 3 tokens per 10s refill => one token in ceil(1/0.3) = 4s
	if qe.RetryAfterSeconds != 4 {
		t.Errorf("RetryAfterSeconds = %d, want 4", qe.RetryAfterSeconds)
	}

	if _, err := svc.CheckRateLimit(ctx, "/api/x", "5.6.7.8", models.LimitByIP, nil); err != nil {
		t.Errorf("other identifiers keep their own quota: %v", err)
	}

	c.Advance(4 * time.Second)
	if _, err := svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil); err != nil {
		t.Errorf("request after refill: %v", err)
	}
}

func TestCheckRateLimit_ConsumerOverrideHasOwnQuota(t *testing.T) {
	svc := newLocalService(newClock(), apiRule())
	ctx := context.Background()
	gold := map[string]string{"X-API-Key": "gold"}

	for i := 0; i < 3; i++ {
		_, _ = svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	}

	d, err := svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, gold)
	if err != nil {
		t.Fatalf("override quota should be separate: %v", err)
	}
	if d.Limit != 10 {
		t.Errorf("Limit = %d, want 10", d.Limit)
	}
}

func TestGetRateLimitInfo_DoesNotConsume(t *testing.T) {
	svc := newLocalService(newClock(), apiRule())
	ctx := context.Background()

	info, err := svc.GetRateLimitInfo(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	if err != nil {
		t.Fatal(err)
	}
	if info.Remaining != 3 || info.Limit != 3 || info.Algorithm != models.TokenBucket {
		t.Errorf("info = %+v", info)
	}

	_, _ = svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	for i := 0; i < 3; i++ {
		info, _ = svc.GetRateLimitInfo(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	}
	if info.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", info.Remaining)
	}

	none, _ := svc.GetRateLimitInfo(ctx, "/other", "1.2.3.4", models.LimitByIP, nil)
	if !none.Unlimited {
		t.Error("unmatched path should report unlimited")
	}
}

func TestReset(t *testing.T) {
	svc := newLocalService(newClock(), apiRule())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	}
	if err := svc.Reset(ctx, "api", "1.2.3.4"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	d, err := svc.CheckRateLimit(ctx, "/api/x", "1.2.3.4", models.LimitByIP, nil)
	if err != nil || d.Remaining != 2 {
		t.Errorf("after reset: decision = %+v, err = %v", d, err)
	}

	if err := svc.Reset(ctx, "missing", "x"); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("err = %v, want ErrRuleNotFound", err)
	}
}

func TestResetAll(t *testing.T) {
	svc := newLocalService(newClock(), apiRule())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = svc.CheckRateLimit(ctx, "/api/x", "a", models.LimitByIP, nil)
	}
	if err := svc.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CheckRateLimit(ctx, "/api/x", "a", models.LimitByIP, nil); err != nil {
		t.Errorf("after ResetAll: %v", err)
	}
}

func distributedRule() models.RateLimitRule {
	r := apiRule()
	r.ID = "shared"
	r.Algorithm = models.FixedWindow
	r.MaxRequests = 2
	r.Distributed = true
	return r
}

func TestCheckRateLimit_DistributedSharesStateAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := newClock()
	newInstance := func() *AdmissionService {
		return NewAdmissionService(Options{
			Rules:       ruleList{distributedRule()},
			Registry:    ratelimit.NewRegistry(c.Now),
			Coordinator: coordination.NewRedisClient(rdb, coordination.RedisOptions{Timeout: time.Second, Now: c.Now}),
			Now:         c.Now,
		})
	}
	a, b := newInstance(), newInstance()
	ctx := context.Background()

	if _, err := a.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil); err != nil {
		t.Fatal(err)
	}
	d, err := b.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Distributed || d.Remaining != 0 {
		t.Errorf("decision = %+v", d)
	}

	if _, err := a.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("third request across instances: err = %v", err)
	}

	if err := a.Reset(ctx, "shared", "ip"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil); err != nil {
		t.Errorf("after distributed reset: %v", err)
	}
}

type downStore struct{ coordination.Client }

func (downStore) AllowFixedWindow(context.Context, string, int, int) (bool, error) {
	return false, coordination.ErrStoreUnavailable
}

func TestCheckRateLimit_StoreFailurePolicy(t *testing.T) {
	ctx := context.Background()

	open := NewAdmissionService(Options{Rules: ruleList{distributedRule()}, Coordinator: downStore{}, FailOpen: true})
	d, err := open.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil)
	if err != nil || !d.Allowed || !d.Degraded {
		t.Errorf("fail-open: decision = %+v, err = %v", d, err)
	}

	closed := NewAdmissionService(Options{Rules: ruleList{distributedRule()}, Coordinator: downStore{}})
	if _, err := closed.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil); !errors.Is(err, coordination.ErrStoreUnavailable) {
		t.Errorf("fail-closed: err = %v, want ErrStoreUnavailable", err)
	}
}

func (downStore) Remaining(context.Context, string, int) (int, error) {
	return 0, coordination.ErrStoreUnavailable
}

func TestGetRateLimitInfo_StoreFailurePolicy(t *testing.T) {
	ctx := context.Background()

	open := NewAdmissionService(Options{Rules: ruleList{distributedRule()}, Coordinator: downStore{}, FailOpen: true})
	info, err := open.GetRateLimitInfo(ctx, "/api/x", "ip", models.LimitByIP, nil)
	if err != nil || !info.Degraded || info.Remaining != info.Limit {
		t.Errorf("fail-open: info = %+v, err = %v", info, err)
	}

	closed := NewAdmissionService(Options{Rules: ruleList{distributedRule()}, Coordinator: downStore{}})
	if _, err := closed.GetRateLimitInfo(ctx, "/api/x", "ip", models.LimitByIP, nil); !errors.Is(err, coordination.ErrStoreUnavailable) {
		t.Errorf("fail-closed: err = %v, want ErrStoreUnavailable", err)
	}
}

func TestCheckRateLimit_DistributedWithoutStoreRunsLocally(t *testing.T) {
	svc := newLocalService(newClock(), distributedRule())
	ctx := context.Background()

	d, err := svc.CheckRateLimit(ctx, "/api/x", "ip", models.LimitByIP, nil)
	if err != nil || d.Distributed {
		t.Errorf("decision = %+v, err = %v", d, err)
	}
}
