package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aman-churiwal/admission-gateway/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Admission Gateway") || !strings.Contains(out, "Go Version") {
		t.Errorf("output = %q", out)
	}
}

func TestRulesValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte(`
rules:
  - id: api
    path_pattern: /api/**
    limit_type: ip
    algorithm: token_bucket
    window_seconds: 60
    max_requests: 100
`), 0o644); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte(`
rules:
  - id: api
    path_pattern: api
    limit_type: ip
    algorithm: token_bucket
    window_seconds: 0
    max_requests: 100
    distributed: true
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("valid", func(t *testing.T) {
		out, err := runCLI(t, "rules", "validate", good)
		if err != nil {
			t.Fatalf("err = %v, output = %s", err, out)
		}
		if !strings.Contains(out, "1 rule(s) OK") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		out, err := runCLI(t, "rules", "validate", bad)
		if err == nil {
			t.Fatal("expected error")
		}
		for _, field := range []string{"path_pattern", "window_seconds", "distributed"} {
			if !strings.Contains(out, field) {
				t.Errorf("output missing %s: %q", field, out)
			}
		}
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q", out)
	}
	if !logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("error level should be enabled")
	}
}

func TestRulesImport_RequiresDatabase(t *testing.T) {
	t.Setenv("GATEWAY_DATABASE_ENABLED", "false")

	_, err := runCLI(t, "rules", "import", "--config", filepath.Join(t.TempDir(), "missing.json"), "rules.yaml")
	if err == nil || !strings.Contains(err.Error(), "database is not enabled") {
		t.Errorf("err = %v", err)
	}
}
