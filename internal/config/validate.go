package config

import (
	"fmt"
	"strings"
)

type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

var validLimitTypes = map[string]bool{"ip": true, "api_key": true, "user": true, "header": true}

func (c *Config) Validate() error {
	verr := &ValidationError{}
	add := func(field, format string, args ...any) {
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port == "" {
		add("server.port", "is required")
	}
	if c.Redis.Enabled && (c.Redis.Host == "" || c.Redis.Port == "") {
		add("redis", "host and port are required when enabled")
	}
	if c.Redis.Timeout <= 0 {
		add("redis.timeout", "must be positive")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		add("database.dsn", "is required when enabled")
	}
	if len(c.RateLimit.LimitTypes) == 0 {
		add("ratelimit.limit_types", "must name at least one limit type")
	}
	for _, t := range c.RateLimit.LimitTypes {
		if !validLimitTypes[t] {
			add("ratelimit.limit_types", "unknown limit type %q", t)
		}
	}
	if c.RateLimit.IdleTTL <= 0 {
		add("ratelimit.idle_ttl", "must be positive")
	}
	if c.CircuitBreaker.MaxFailures <= 0 {
		add("circuit_breaker.max_failures", "must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "unknown format %q", c.Logging.Format)
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}
