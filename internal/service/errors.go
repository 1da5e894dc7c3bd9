package service

import (
	"errors"
	"fmt"

	"github.com/aman-churiwal/admission-gateway/internal/models"
)

// ErrQuotaExceeded is matched by every rejection
var ErrQuotaExceeded = errors.New("rate limit exceeded")

// QuotaExceededError carries what a caller needs to build a 429 response
type QuotaExceededError struct {
	RuleID            string
	Limit             int
	Remaining         int
	RetryAfterSeconds int
	Algorithm         models.Algorithm
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for rule %s: limit %d, retry after %ds", e.RuleID, e.Limit, e.RetryAfterSeconds)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
