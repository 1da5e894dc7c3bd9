package ratelimit

import (
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// Limiter is a single in-memory admission strategy. One Limiter holds the
// state of many independent limiter keys; all methods are safe for concurrent
// use and never block on I/O.
type Limiter interface {
	// Consumes one unit of quota for key if available
	Allow(key string) bool

	// Returns the units still available to key without consuming any
	Remaining(key string) int

	// Returns whole seconds until key can next be admitted or its window rolls over
	ResetSeconds(key string) int

	Reset(key string)

	ResetAll()

	// Drops keys not touched since idleSince whose state has returned to that
	// of a new key, and returns how many were dropped
	Evict(idleSince time.Time) int

	// Number of keys currently tracked
	Len() int

	Limit() int

	Algorithm() models.Algorithm
}

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time
