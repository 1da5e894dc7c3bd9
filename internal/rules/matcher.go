package rules

import (
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// Source supplies the current rule set. Implementations return a snapshot
// that callers must not modify.
type Source interface {
	ListRules() []models.RateLimitRule
}

// Matcher selects the rule that governs a request
type Matcher struct {
	source Source
	now    func() time.Time
}

func NewMatcher(source Source, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{source: source, now: now}
}

// Returns the enabled, currently valid rule of the given limit type whose
// pattern matches path with the lowest priority value. Among equal priorities
// the rule listed first wins.
func (m *Matcher) Match(path string, limitType models.LimitType) (*models.RateLimitRule, bool) {
	now := m.now()
	rules := m.source.ListRules()

	best := -1
	for i := range rules {
		r := &rules[i]
		if !r.Enabled || r.LimitType != limitType || !r.ValidAt(now) {
			continue
		}
		if !PathMatches(r.PathPattern, path) {
			continue
		}
		if best == -1 || r.Priority < rules[best].Priority {
			best = i
		}
	}

	if best == -1 {
		return nil, false
	}
	rule := rules[best]
	return &rule, true
}

func (m *Matcher) Find(ruleID string) (*models.RateLimitRule, bool) {
	rules := m.source.ListRules()
	for i := range rules {
		if rules[i].ID == ruleID {
			rule := rules[i]
			return &rule, true
		}
	}
	return nil, false
}

// PathMatches reports whether path satisfies pattern.
//
//	/api/**     any path starting with /api
//	/api/*      one segment below /api/ (e.g. /api/users, not /api/users/1)
//	/api/users  exact match
//	""          every path
func PathMatches(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(path, prefix)
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, "/") {
		rest, found := strings.CutPrefix(path, prefix)
		return found && !strings.Contains(rest, "/")
	}
	return pattern == path
}
