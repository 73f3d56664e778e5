package config

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

// TestFromEnv_Defaults tests default values with a clean environment.
func TestFromEnv_Defaults(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v, want nil", err)
	}

	if cfg.Ledger.Backend != "file" {
		t.Errorf("Ledger.Backend = %q, want %q", cfg.Ledger.Backend, "file")
	}
	if cfg.Ledger.BudgetLimit != 500000 {
		t.Errorf("Ledger.BudgetLimit = %d, want 500000", cfg.Ledger.BudgetLimit)
	}
	if cfg.Ledger.MaxConcurrent != 1 {
		t.Errorf("Ledger.MaxConcurrent = %d, want 1", cfg.Ledger.MaxConcurrent)
	}
	if !strings.HasSuffix(cfg.Ledger.Path, "state/ledger.json") {
		t.Errorf("Ledger.Path = %q, want */state/ledger.json", cfg.Ledger.Path)
	}

	if cfg.Gate.ConsentPolicy != "redact" {
		t.Errorf("Gate.ConsentPolicy = %q, want %q", cfg.Gate.ConsentPolicy, "redact")
	}
	if !cfg.Gate.StrictOrigin {
		t.Error("Gate.StrictOrigin = false, want true")
	}
	if cfg.Gate.MaxContentSize != 100000 {
		t.Errorf("Gate.MaxContentSize = %d, want 100000", cfg.Gate.MaxContentSize)
	}

	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry.MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Retry.BaseDelay = %v, want 2s", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("Retry.MaxDelay = %v, want 30s", cfg.Retry.MaxDelay)
	}
	if cfg.Retry.TimeoutMultiplier != 1.5 {
		t.Errorf("Retry.TimeoutMultiplier = %g, want 1.5", cfg.Retry.TimeoutMultiplier)
	}

	if cfg.Lifecycle.EstimatedTokens != 10000 {
		t.Errorf("Lifecycle.EstimatedTokens = %d, want 10000", cfg.Lifecycle.EstimatedTokens)
	}
	if cfg.Lifecycle.MinRecordTokens != 1000 {
		t.Errorf("Lifecycle.MinRecordTokens = %d, want 1000", cfg.Lifecycle.MinRecordTokens)
	}
	if cfg.Lifecycle.BaseTimeout != 5*time.Minute {
		t.Errorf("Lifecycle.BaseTimeout = %v, want 5m", cfg.Lifecycle.BaseTimeout)
	}

	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled = false, want true")
	}
	if !strings.HasSuffix(cfg.Audit.Path, "logs/audit.jsonl") {
		t.Errorf("Audit.Path = %q, want */logs/audit.jsonl", cfg.Audit.Path)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want level info format json", cfg.Logging)
	}
}

// TestFromEnv_Overrides tests environment variable parsing.
func TestFromEnv_Overrides(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()

	os.Setenv("LEDGER_BACKEND", "sqlite")
	os.Setenv("LEDGER_BUDGET_LIMIT", "120000")
	os.Setenv("GATE_STRICT_ORIGIN", "false")
	os.Setenv("RETRY_TIMEOUT_MULTIPLIER", "2.0")
	os.Setenv("LIFECYCLE_BASE_TIMEOUT", "90s")
	os.Setenv("GATE_ALLOWED_DIRS", "/tmp/a,/tmp/b")
	defer func() {
		os.Unsetenv("LEDGER_BACKEND")
		os.Unsetenv("LEDGER_BUDGET_LIMIT")
		os.Unsetenv("GATE_STRICT_ORIGIN")
		os.Unsetenv("RETRY_TIMEOUT_MULTIPLIER")
		os.Unsetenv("LIFECYCLE_BASE_TIMEOUT")
		os.Unsetenv("GATE_ALLOWED_DIRS")
	}()

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v, want nil", err)
	}

	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("Ledger.Backend = %q, want %q", cfg.Ledger.Backend, "sqlite")
	}
	if !strings.HasSuffix(cfg.Ledger.Path, "state/ledger.db") {
		t.Errorf("Ledger.Path = %q, want */state/ledger.db for sqlite backend", cfg.Ledger.Path)
	}
	if cfg.Ledger.BudgetLimit != 120000 {
		t.Errorf("Ledger.BudgetLimit = %d, want 120000", cfg.Ledger.BudgetLimit)
	}
	if cfg.Gate.StrictOrigin {
		t.Error("Gate.StrictOrigin = true, want false")
	}
	if cfg.Retry.TimeoutMultiplier != 2.0 {
		t.Errorf("Retry.TimeoutMultiplier = %g, want 2.0", cfg.Retry.TimeoutMultiplier)
	}
	if cfg.Lifecycle.BaseTimeout != 90*time.Second {
		t.Errorf("Lifecycle.BaseTimeout = %v, want 90s", cfg.Lifecycle.BaseTimeout)
	}
	if len(cfg.Gate.AllowedDirs) != 2 || cfg.Gate.AllowedDirs[0] != "/tmp/a" {
		t.Errorf("Gate.AllowedDirs = %v, want [/tmp/a /tmp/b]", cfg.Gate.AllowedDirs)
	}
}

// TestValidate covers the validation rules.
func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Ledger.Backend = "file"
		cfg.Ledger.Path = "/tmp/ledger.json"
		cfg.Ledger.BudgetLimit = 500000
		cfg.Ledger.MaxConcurrent = 1
		cfg.Gate.ConsentPolicy = "redact"
		cfg.Gate.MaxContentSize = 100000
		cfg.Retry.MaxRetries = 2
		cfg.Retry.BaseDelay = 2 * time.Second
		cfg.Retry.MaxDelay = 30 * time.Second
		cfg.Retry.TimeoutMultiplier = 1.5
		cfg.Lifecycle.EstimatedTokens = 10000
		cfg.Lifecycle.BaseTimeout = 5 * time.Minute
		cfg.Audit.Path = "/tmp/audit.jsonl"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "etcd" }, true},
		{"empty ledger path", func(c *Config) { c.Ledger.Path = "" }, true},
		{"zero budget", func(c *Config) { c.Ledger.BudgetLimit = 0 }, true},
		{"negative budget", func(c *Config) { c.Ledger.BudgetLimit = -1 }, true},
		{"zero max concurrent", func(c *Config) { c.Ledger.MaxConcurrent = 0 }, true},
		{"zero content size", func(c *Config) { c.Gate.MaxContentSize = 0 }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = time.Second }, true},
		{"multiplier below one", func(c *Config) { c.Retry.TimeoutMultiplier = 0.5 }, true},
		{"zero estimated tokens", func(c *Config) { c.Lifecycle.EstimatedTokens = 0 }, true},
		{"negative rate limit", func(c *Config) { c.Lifecycle.RateLimit = -1 }, true},
		{"rate limit without burst", func(c *Config) {
			c.Lifecycle.RateLimit = 2
			c.Lifecycle.RateBurst = 0
		}, true},
		{"audit enabled without path", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.Path = ""
		}, true},
		// Unrecognized policies are normalized by the gate, not rejected here.
		{"unknown consent policy accepted", func(c *Config) { c.Gate.ConsentPolicy = "bogus" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestDuration_UnmarshalText tests the Duration wrapper.
func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText(-5s) should error on negative duration")
	}

	if err := d.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) should error")
	}
}

// TestSecret_Redaction tests that secrets never leak through formatting.
func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2-hunter2")

	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", s.String())
	}
	if s.GoString() != "Secret([REDACTED])" {
		t.Errorf("GoString() = %q, want Secret([REDACTED])", s.GoString())
	}
	if s.Value() != "hunter2-hunter2" {
		t.Errorf("Value() = %q, want raw secret", s.Value())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false, want true")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `"[REDACTED]"` {
		t.Errorf("MarshalJSON = %s, want \"[REDACTED]\"", data)
	}

	var empty Secret
	if empty.String() != "" || empty.IsSet() {
		t.Error("empty Secret should stringify empty and report unset")
	}
}
