package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identifies which caller attribute a rule keys its quota on
type LimitType string

const (
	LimitByIP     LimitType = "ip"
	LimitByAPIKey LimitType = "api_key"
	LimitByUser   LimitType = "user"
	LimitByHeader LimitType = "header"
)

var limitTypes = []LimitType{LimitByIP, LimitByAPIKey, LimitByUser, LimitByHeader}

// Returns every supported limit type in evaluation order
func LimitTypes() []LimitType {
	out := make([]LimitType, len(limitTypes))
	copy(out, limitTypes)
	return out
}

func ParseLimitType(s string) (LimitType, bool) {
	for _, t := range limitTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	LeakyBucket   Algorithm = "leaky_bucket"
	SlidingWindow Algorithm = "sliding_window"
	FixedWindow   Algorithm = "fixed_window"
)

func (a Algorithm) Valid() bool {
	switch a {
	case TokenBucket, LeakyBucket, SlidingWindow, FixedWindow:
		return true
	default:
		return false
	}
}

// Reports whether the algorithm is a capacity+rate model
func (a Algorithm) Bursting() bool {
	return a == TokenBucket || a == LeakyBucket
}

// Quota fields scoped to a single consumer identity
type ConsumerOverride struct {
	MaxRequests   int       `json:"max_requests" yaml:"max_requests"`
	BurstCapacity int       `json:"burst_capacity,omitempty" yaml:"burst_capacity,omitempty"`
	RefillRate    float64   `json:"refill_rate,omitempty" yaml:"refill_rate,omitempty"`
	Algorithm     Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty"` // empty inherits the rule's algorithm
}

type RateLimitRule struct {
	ID                string                      `gorm:"primaryKey" json:"id" yaml:"id"`
	Name              string                      `json:"name,omitempty" yaml:"name,omitempty"`
	PathPattern       string                      `gorm:"not null" json:"path_pattern" yaml:"path_pattern"`
	LimitType         LimitType                   `gorm:"not null;index" json:"limit_type" yaml:"limit_type"`
	Algorithm         Algorithm                   `gorm:"not null" json:"algorithm" yaml:"algorithm"`
	WindowSeconds     int                         `gorm:"not null" json:"window_seconds" yaml:"window_seconds"`
	MaxRequests       int                         `gorm:"not null" json:"max_requests" yaml:"max_requests"`
	BurstCapacity     int                         `json:"burst_capacity,omitempty" yaml:"burst_capacity,omitempty"`
	RefillRate        float64                     `json:"refill_rate,omitempty" yaml:"refill_rate,omitempty"`
	Distributed       bool                        `json:"distributed" yaml:"distributed"`
	Priority          int                         `gorm:"not null" json:"priority" yaml:"priority"`
	Enabled           bool                        `gorm:"not null" json:"enabled" yaml:"enabled"`
	ValidFrom         *time.Time                  `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil        *time.Time                  `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	ConsumerOverrides map[string]ConsumerOverride `gorm:"serializer:json" json:"consumer_overrides,omitempty" yaml:"consumer_overrides,omitempty"`
	HeaderLimits      map[string]int              `gorm:"serializer:json" json:"header_limits,omitempty" yaml:"header_limits,omitempty"`
	CreatedAt         time.Time                   `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time                   `json:"updated_at" yaml:"-"`
}

func (r *RateLimitRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (RateLimitRule) TableName() string {
	return "rate_limit_rules"
}

// Reports whether now falls inside the rule's optional validity window
func (r *RateLimitRule) ValidAt(now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return false
	}
	return true
}

// Returns the rule's default quota
func (r *RateLimitRule) Quota() Quota {
	return Quota{
		Algorithm:     r.Algorithm,
		MaxRequests:   r.MaxRequests,
		WindowSeconds: r.WindowSeconds,
		BurstCapacity: r.BurstCapacity,
		RefillRate:    r.RefillRate,
	}
}

// Returns the quota an override applies within the given rule's window
func (o ConsumerOverride) QuotaFor(rule *RateLimitRule) Quota {
	algorithm := o.Algorithm
	if algorithm == "" {
		algorithm = rule.Algorithm
	}
	return Quota{
		Algorithm:     algorithm,
		MaxRequests:   o.MaxRequests,
		WindowSeconds: rule.WindowSeconds,
		BurstCapacity: o.BurstCapacity,
		RefillRate:    o.RefillRate,
	}
}
