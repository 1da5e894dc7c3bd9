package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/coordination"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/override"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"golang.org/x/time/rate"
)

// Recorder receives admission telemetry. *metrics.Metrics implements it.
type Recorder interface {
	ObserveDecision(ruleID, algorithm string, distributed bool, result string)
	ObserveCheckDuration(distributed bool, seconds float64)
	ObserveStoreError(operation string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDecision(string, string, bool, string) {}
func (noopRecorder) ObserveCheckDuration(bool, float64)           {}
func (noopRecorder) ObserveStoreError(string)                     {}

type Options struct {
	Rules    rules.Source
	Registry *ratelimit.Registry

	// nil evaluates distributed rules locally
	Coordinator coordination.Client

	Resolver *override.Resolver
	Metrics  Recorder
	Logger   *slog.Logger

	// Admit requests when the coordination store fails instead of returning ErrStoreUnavailable
	FailOpen bool

	Now func() time.Time
}

// AdmissionService decides whether a request may proceed under the rule
// that governs its path, evaluating locally or against the shared store.
type AdmissionService struct {
	matcher     *rules.Matcher
	registry    *ratelimit.Registry
	coordinator coordination.Client
	resolver    *override.Resolver
	metrics     Recorder
	logger      *slog.Logger
	failOpen    bool
	storeWarn   *rate.Sometimes
}

func NewAdmissionService(opts Options) *AdmissionService {
	if opts.Registry == nil {
		opts.Registry = ratelimit.NewRegistry(nil)
	}
	if opts.Resolver == nil {
		opts.Resolver = override.NewResolver("", "")
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &AdmissionService{
		matcher:     rules.NewMatcher(opts.Rules, opts.Now),
		registry:    opts.Registry,
		coordinator: opts.Coordinator,
		resolver:    opts.Resolver,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		failOpen:    opts.FailOpen,
		storeWarn:   &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (s *AdmissionService) distributed(rule *models.RateLimitRule) bool {
	return rule.Distributed && s.coordinator != nil
}

// CheckRateLimit consumes one unit of the caller's quota. A rejection returns
// the decision together with a *QuotaExceededError. When no rule governs the
// path the request is allowed with Limit -1.
func (s *AdmissionService) CheckRateLimit(ctx context.Context, path, identifier string, limitType models.LimitType, headers map[string]string) (*models.RateLimitDecision, error) {
	start := time.Now()

	rule, ok := s.matcher.Match(path, limitType)
	if !ok || !rule.Quota().Valid() {
		s.metrics.ObserveDecision("", "", false, metrics.ResultNoRule)
		return &models.RateLimitDecision{Allowed: true, Limit: -1, Remaining: -1}, nil
	}

	res := s.resolver.Resolve(rule, headers)
	key := ratelimit.LimiterKey(rule.ID, rule.LimitType, identifier) + res.KeySuffix
	distributed := s.distributed(rule)

	var (
		decision *models.RateLimitDecision
		err      error
	)
	if distributed {
		decision, err = s.checkDistributed(ctx, rule, res, key)
	} else {
		decision, err = s.checkLocal(rule, res, key)
	}
	s.metrics.ObserveCheckDuration(distributed, time.Since(start).Seconds())

	algorithm := string(res.Quota.Algorithm)
	if err != nil {
		s.metrics.ObserveDecision(rule.ID, algorithm, distributed, metrics.ResultError)
		return nil, err
	}

	switch {
	case decision.Degraded:
		s.metrics.ObserveDecision(rule.ID, algorithm, distributed, metrics.ResultFailOpen)
	case decision.Allowed:
		s.metrics.ObserveDecision(rule.ID, algorithm, distributed, metrics.ResultAllowed)
	default:
		s.metrics.ObserveDecision(rule.ID, algorithm, distributed, metrics.ResultRejected)
		s.logger.Debug("request rejected",
			"rule", rule.ID,
			"key", key,
			"override", res.Kind.String(),
			"retry_after", decision.RetryAfterSeconds,
		)
		return decision, &QuotaExceededError{
			RuleID:            rule.ID,
			Limit:             decision.Limit,
			Remaining:         decision.Remaining,
			RetryAfterSeconds: decision.RetryAfterSeconds,
			Algorithm:         res.Quota.Algorithm,
		}
	}
	return decision, nil
}

func (s *AdmissionService) checkLocal(rule *models.RateLimitRule, res override.Resolution, key string) (*models.RateLimitDecision, error) {
	limiter, err := s.registry.Limiter(rule.ID, res.KeySuffix, res.Quota)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	allowed := limiter.Allow(key)
	decision := &models.RateLimitDecision{
		Allowed:      allowed,
		Limit:        limiter.Limit(),
		Remaining:    max(0, limiter.Remaining(key)),
		ResetSeconds: limiter.ResetSeconds(key),
		RuleID:       rule.ID,
		Algorithm:    limiter.Algorithm(),
	}
	if !allowed {
		decision.RetryAfterSeconds = max(1, decision.ResetSeconds)
	}
	return decision, nil
}

func (s *AdmissionService) checkDistributed(ctx context.Context, rule *models.RateLimitRule, res override.Resolution, key string) (*models.RateLimitDecision, error) {
	q := res.Quota
	decision := &models.RateLimitDecision{
		Limit:       q.Limit(),
		RuleID:      rule.ID,
		Algorithm:   q.Algorithm,
		Distributed: true,
	}

	var (
		allowed bool
		err     error
	)
	switch q.Algorithm {
	case models.TokenBucket:
		allowed, err = s.coordinator.AllowTokenBucket(ctx, key, q.Capacity(), q.Rate())
	case models.LeakyBucket:
		allowed, err = s.coordinator.AllowLeakyBucket(ctx, key, q.Capacity(), q.Rate())
	case models.SlidingWindow:
		allowed, err = s.coordinator.AllowSlidingWindow(ctx, key, q.MaxRequests, q.WindowSeconds)
	case models.FixedWindow:
		allowed, err = s.coordinator.AllowFixedWindow(ctx, key, q.MaxRequests, q.WindowSeconds)
	default:
		return nil, fmt.Errorf("rule %s: unknown algorithm %q", rule.ID, q.Algorithm)
	}
	if err != nil {
		return s.storeFailure(rule, string(q.Algorithm), decision, err, false)
	}
	decision.Allowed = allowed

	remaining, err := s.coordinator.Remaining(ctx, key, q.Limit())
	if err != nil {
		return s.storeFailure(rule, "remaining", decision, err, true)
	}
	decision.Remaining = max(0, remaining)

	if !allowed || decision.Remaining == 0 {
		ttl, err := s.coordinator.TimeToLive(ctx, key, q.Algorithm)
		if err != nil {
			return s.storeFailure(rule, "ttl", decision, err, true)
		}
		decision.ResetSeconds = ttl
	}
	if !allowed {
		decision.RetryAfterSeconds = max(1, decision.ResetSeconds)
	}
	return decision, nil
}

// Applies the fail-open or fail-closed policy to a store error. When decided
// is true the store already answered the admission and only a follow-up
// lookup failed, so the outcome stands.
func (s *AdmissionService) storeFailure(rule *models.RateLimitRule, op string, decision *models.RateLimitDecision, err error, decided bool) (*models.RateLimitDecision, error) {
	s.noteStoreError(rule, op, err)

	if decided {
		if !decision.Allowed {
			decision.RetryAfterSeconds = max(1, decision.ResetSeconds)
		}
		return decision, nil
	}

	if !s.failOpen {
		if !errors.Is(err, coordination.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", coordination.ErrStoreUnavailable, err)
		}
		return nil, err
	}

	decision.Allowed = true
	decision.Degraded = true
	decision.Remaining = decision.Limit
	return decision, nil
}

// Info lookups follow the same policy: fail-open reports the full quota
// as degraded, fail-closed surfaces ErrStoreUnavailable.
func (s *AdmissionService) infoStoreFailure(rule *models.RateLimitRule, op string, info *models.RateLimitInfo, err error) (*models.RateLimitInfo, error) {
	s.noteStoreError(rule, op, err)

	if !s.failOpen {
		if !errors.Is(err, coordination.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", coordination.ErrStoreUnavailable, err)
		}
		return nil, err
	}

	info.Degraded = true
	info.Remaining = info.Limit
	info.ResetSeconds = 0
	return info, nil
}

func (s *AdmissionService) noteStoreError(rule *models.RateLimitRule, op string, err error) {
	s.metrics.ObserveStoreError(op)
	s.storeWarn.Do(func() {
		s.logger.Warn("coordination store call failed",
			"rule", rule.ID,
			"operation", op,
			"fail_open", s.failOpen,
			"error", err,
		)
	})
}

// GetRateLimitInfo reports the caller's quota without consuming it
func (s *AdmissionService) GetRateLimitInfo(ctx context.Context, path, identifier string, limitType models.LimitType, headers map[string]string) (*models.RateLimitInfo, error) {
	rule, ok := s.matcher.Match(path, limitType)
	if !ok || !rule.Quota().Valid() {
		return &models.RateLimitInfo{Limit: -1, Remaining: -1, Unlimited: true}, nil
	}

	res := s.resolver.Resolve(rule, headers)
	key := ratelimit.LimiterKey(rule.ID, rule.LimitType, identifier) + res.KeySuffix
	q := res.Quota
	info := &models.RateLimitInfo{RuleID: rule.ID, Limit: q.Limit(), Algorithm: q.Algorithm}

	if s.distributed(rule) {
		remaining, err := s.coordinator.Remaining(ctx, key, q.Limit())
		if err != nil {
			return s.infoStoreFailure(rule, "remaining", info, err)
		}
		ttl, err := s.coordinator.TimeToLive(ctx, key, q.Algorithm)
		if err != nil {
			return s.infoStoreFailure(rule, "ttl", info, err)
		}
		info.Remaining = max(0, remaining)
		info.ResetSeconds = ttl
		return info, nil
	}

	limiter, ok := s.registry.Lookup(rule.ID, res.KeySuffix)
	if !ok {
		info.Remaining = q.Limit()
		return info, nil
	}
	info.Remaining = max(0, limiter.Remaining(key))
	info.ResetSeconds = limiter.ResetSeconds(key)
	return info, nil
}

// Reset clears the identifier's state under every quota variant of the rule
func (s *AdmissionService) Reset(ctx context.Context, ruleID, identifier string) error {
	rule, ok := s.matcher.Find(ruleID)
	if !ok {
		return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
	}

	base := ratelimit.LimiterKey(rule.ID, rule.LimitType, identifier)
	s.registry.Reset(rule.ID, base)

	if s.coordinator != nil && rule.Distributed {
		keys := []string{base}
		for consumer := range rule.ConsumerOverrides {
			keys = append(keys, base+ratelimit.ConsumerSuffix(consumer))
		}
		for value := range rule.HeaderLimits {
			keys = append(keys, base+ratelimit.HeaderSuffix(value))
		}
		for _, k := range keys {
			if err := s.coordinator.Reset(ctx, k); err != nil {
				return err
			}
		}
	}

	s.logger.Info("rate limit reset", "rule", rule.ID, "identifier", identifier)
	return nil
}

// ResetAll clears every local limiter and, when configured, all shared state
func (s *AdmissionService) ResetAll(ctx context.Context) error {
	s.registry.ResetAll()
	if s.coordinator != nil {
		if err := s.coordinator.ResetAll(ctx); err != nil {
			return err
		}
	}

	s.logger.Info("all rate limits reset")
	return nil
}

// Drops local limiters of a rule that changed or was removed
func (s *AdmissionService) InvalidateRule(ruleID string) {
	s.registry.Invalidate(ruleID)
}
