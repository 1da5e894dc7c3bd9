package models

// Outcome of a single admission check
type RateLimitDecision struct {
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	ResetSeconds      int       `json:"reset_seconds"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	RuleID            string    `json:"rule_id,omitempty"`
	Algorithm         Algorithm `json:"algorithm,omitempty"`
	Distributed       bool      `json:"distributed,omitempty"`

	// Set when the coordination store failed and the request was admitted anyway
	Degraded bool `json:"degraded,omitempty"`
}

// Read-only view of a caller's quota
type RateLimitInfo struct {
	RuleID       string    `json:"rule_id,omitempty"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	ResetSeconds int       `json:"reset_seconds"`
	Algorithm    Algorithm `json:"algorithm,omitempty"`
	Unlimited    bool      `json:"unlimited,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
}
