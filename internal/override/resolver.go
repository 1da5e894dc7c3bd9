// Package override picks the quota that applies to a caller under a matched
// rule: a consumer override, a header-value limit, or the rule default.
package override

import (
	"net/http"
	"sort"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
)

type Kind int

const (
	KindDefault Kind = iota
	KindConsumer
	KindHeader
)

func (k Kind) String() string {
	switch k {
	case KindConsumer:
		return "consumer"
	case KindHeader:
		return "header"
	default:
		return "default"
	}
}

// Resolution is the quota chosen for one request. KeySuffix is appended to
// the base limiter key so each variant keeps separate counters.
type Resolution struct {
	Kind       Kind
	Quota      models.Quota
	KeySuffix  string
	ConsumerID string
	HeaderVal  string
}

type Resolver struct {
	credentialHeader string
	userHeader       string
}

const (
	DefaultCredentialHeader = "X-API-Key"
	DefaultUserHeader       = "X-User-ID"
)

func NewResolver(credentialHeader, userHeader string) *Resolver {
	if credentialHeader == "" {
		credentialHeader = DefaultCredentialHeader
	}
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}
	return &Resolver{credentialHeader: credentialHeader, userHeader: userHeader}
}

// Resolve returns the consumer override for the first of the caller's
// identities that has one, otherwise the first header value (by header name) that has a
// header limit, otherwise the rule's default quota.
func (r *Resolver) Resolve(rule *models.RateLimitRule, headers map[string]string) Resolution {
	for _, consumer := range r.ConsumerIDs(headers) {
		if o, ok := rule.ConsumerOverrides[consumer]; ok {
			return Resolution{
				Kind:       KindConsumer,
				Quota:      o.QuotaFor(rule),
				KeySuffix:  ratelimit.ConsumerSuffix(consumer),
				ConsumerID: consumer,
			}
		}
	}

	if len(rule.HeaderLimits) > 0 && len(headers) > 0 {
		names := make([]string, 0, len(headers))
		for name := range headers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			value := headers[name]
			if limit, ok := rule.HeaderLimits[value]; ok {
				return Resolution{
					Kind: KindHeader,
					Quota: models.Quota{
						Algorithm:     models.FixedWindow,
						MaxRequests:   limit,
						WindowSeconds: rule.WindowSeconds,
					},
					KeySuffix: ratelimit.HeaderSuffix(value),
					HeaderVal: value,
				}
			}
		}
	}

	return Resolution{Kind: KindDefault, Quota: rule.Quota()}
}

// Returns the caller's candidate consumer identities in lookup order: the
// credential header, then the user header. Empty values are skipped.
func (r *Resolver) ConsumerIDs(headers map[string]string) []string {
	ids := make([]string, 0, 2)
	for _, name := range []string{r.credentialHeader, r.userHeader} {
		if v := Header(headers, name); v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}

// Header looks up name case-insensitively
func Header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	if v, ok := headers[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Flattens an http.Header to its first value per name
func FromHTTP(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
