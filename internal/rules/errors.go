package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRule  = errors.New("invalid rate limit rule")
	ErrRuleNotFound = errors.New("rate limit rule not found")
)

// RuleError describes one invalid field of one rule
type RuleError struct {
	RuleID  string
	Field   string
	Message string
}

func (e *RuleError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Field, e.Message)
}

func (e *RuleError) Unwrap() error {
	return ErrInvalidRule
}

// ValidationError aggregates every problem found in a rule set
type ValidationError struct {
	Errors []*RuleError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d rule errors:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

func (e *ValidationError) add(ruleID, field, format string, args ...any) {
	e.Errors = append(e.Errors, &RuleError{RuleID: ruleID, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
