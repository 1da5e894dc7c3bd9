package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig         `json:"server"`
	Redis          RedisConfig          `json:"redis"`
	Database       DatabaseConfig       `json:"database"`
	Rules          RulesConfig          `json:"rules"`
	RateLimit      RateLimitConfig      `json:"ratelimit"`
	Auth           AuthConfig           `json:"auth"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Logging        LoggingConfig        `json:"logging"`
}

type ServerConfig struct {
	Port            string   `json:"port"`
	Environment     string   `json:"environment"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host"`
	Port     string   `json:"port"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	PoolSize int      `json:"pool_size"`
	Prefix   string   `json:"prefix"`
	Timeout  Duration `json:"timeout"` // per coordination call
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	Enabled         bool     `json:"enabled"`
	DSN             string   `json:"dsn"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	MaxOpenConns    int      `json:"max_open_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	LogLevel        string   `json:"log_level"`
}

type RulesConfig struct {
	File            string `json:"file"`
	Watch           bool   `json:"watch"`
	RefreshSchedule string `json:"refresh_schedule"` // cron spec for reloading database rules
}

type RateLimitConfig struct {
	// Limit types the middleware checks, in order
	LimitTypes       []string `json:"limit_types"`
	FailOpen         bool     `json:"fail_open"`
	CredentialHeader string   `json:"credential_header"`
	UserHeader       string   `json:"user_header"`
	LimitHeader      string   `json:"limit_header"` // header identifying callers for "header" rules
	TrustedProxies   []string `json:"trusted_proxies"`
	SweepSchedule    string   `json:"sweep_schedule"`
	IdleTTL          Duration `json:"idle_ttl"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	AdminToken  string `json:"admin_token"`
	UserIDClaim string `json:"user_id_claim"`
}

type CircuitBreakerConfig struct {
	MaxFailures    int      `json:"max_failures"`
	OpenTimeout    Duration `json:"open_timeout"`
	HalfOpenProbes int      `json:"half_open_probes"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    "6379",
			Prefix:  "ratelimit:",
			Timeout: Duration(50 * time.Millisecond),
		},
		Database: DatabaseConfig{
			MaxIdleConns:    5,
			MaxOpenConns:    20,
			ConnMaxLifetime: Duration(time.Hour),
			LogLevel:        "warn",
		},
		Rules: RulesConfig{
			File:            "rules.yaml",
			Watch:           true,
			RefreshSchedule: "@every 30s",
		},
		RateLimit: RateLimitConfig{
			LimitTypes:       []string{"ip", "api_key", "user", "header"},
			FailOpen:         true,
			CredentialHeader: "X-API-Key",
			UserHeader:       "X-User-ID",
			LimitHeader:      "X-Client-ID",
			SweepSchedule:    "@every 1m",
			IdleTTL:          Duration(10 * time.Minute),
		},
		Auth: AuthConfig{
			UserIDClaim: "sub",
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:    5,
			OpenTimeout:    Duration(30 * time.Second),
			HalfOpenProbes: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env (if present), the JSON file at path (if present) over the
// defaults, then GATEWAY_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("GATEWAY_PORT", &c.Server.Port)
	str("GATEWAY_ENV", &c.Server.Environment)
	boolean("GATEWAY_REDIS_ENABLED", &c.Redis.Enabled)
	str("GATEWAY_REDIS_HOST", &c.Redis.Host)
	str("GATEWAY_REDIS_PORT", &c.Redis.Port)
	str("GATEWAY_REDIS_PASSWORD", &c.Redis.Password)
	integer("GATEWAY_REDIS_DB", &c.Redis.DB)
	boolean("GATEWAY_DATABASE_ENABLED", &c.Database.Enabled)
	str("GATEWAY_DATABASE_DSN", &c.Database.DSN)
	str("GATEWAY_RULES_FILE", &c.Rules.File)
	boolean("GATEWAY_FAIL_OPEN", &c.RateLimit.FailOpen)
	str("GATEWAY_JWT_SECRET", &c.Auth.JWTSecret)
	str("GATEWAY_ADMIN_TOKEN", &c.Auth.AdminToken)
	str("GATEWAY_LOG_LEVEL", &c.Logging.Level)
	str("GATEWAY_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("GATEWAY_LIMIT_TYPES"); ok {
		c.RateLimit.LimitTypes = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
