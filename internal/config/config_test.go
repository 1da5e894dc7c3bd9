package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{
		"server": {"port": "9090", "shutdown_timeout": "3s"},
		"redis": {"enabled": true, "timeout": 0.2},
		"ratelimit": {"limit_types": ["ip", "user"], "fail_open": false}
	}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %s", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Std() != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Redis.Timeout.Std() != 200*time.Millisecond {
		t.Errorf("Redis.Timeout = %v", cfg.Redis.Timeout.Std())
	}
	if cfg.RateLimit.FailOpen {
		t.Error("FailOpen should be overridden to false")
	}
	if cfg.Redis.Host != "localhost" {
		t.Errorf("unset fields keep defaults, Host = %q", cfg.Redis.Host)
	}
	if len(cfg.RateLimit.LimitTypes) != 2 {
		t.Errorf("LimitTypes = %v", cfg.RateLimit.LimitTypes)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" || !cfg.RateLimit.FailOpen {
		t.Errorf("unexpected defaults: %+v", cfg.Server)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "7000")
	t.Setenv("GATEWAY_LIMIT_TYPES", "api_key, header")
	t.Setenv("GATEWAY_FAIL_OPEN", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7000" || cfg.RateLimit.FailOpen {
		t.Errorf("env not applied: port=%s failOpen=%v", cfg.Server.Port, cfg.RateLimit.FailOpen)
	}
	if got := cfg.RateLimit.LimitTypes; len(got) != 2 || got[1] != "header" {
		t.Errorf("LimitTypes = %v", got)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("GATEWAY_REDIS_DB", "zero")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for non-numeric GATEWAY_REDIS_DB")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database.Enabled = true
	cfg.RateLimit.LimitTypes = []string{"cookie"}
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("errors = %v, want 3", verr.Errors)
	}
}
