// Package config provides configuration loading for delegated.
//
// Configuration is loaded from a YAML file and environment variables with
// sensible defaults. This package covers the ledger, gate, retry, lifecycle,
// audit, logging, and telemetry settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete delegated configuration.
type Config struct {
	Ledger    LedgerConfig    `koanf:"ledger"`
	Gate      GateConfig      `koanf:"gate"`
	Retry     RetryConfig     `koanf:"retry"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
	Audit     AuditConfig     `koanf:"audit"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LedgerConfig holds session ledger configuration.
type LedgerConfig struct {
	Backend       string `koanf:"backend"`        // "file" or "sqlite" (default: file)
	Path          string `koanf:"path"`           // Ledger file path (default: ~/.config/delegated/state/ledger.json)
	BudgetLimit   int64  `koanf:"budget_limit"`   // Session token budget (default: 500000)
	MaxConcurrent int    `koanf:"max_concurrent"` // Concurrent delegated calls (default: 1)
}

// GateConfig holds safety gate configuration.
type GateConfig struct {
	ConsentPolicy  string   `koanf:"consent_policy"`   // "block", "redact", or "require_allowlist" (default: redact)
	StrictOrigin   bool     `koanf:"strict_origin"`    // Reject content without provenance (default: true)
	AllowedDirs    []string `koanf:"allowed_dirs"`     // Extra trusted roots beyond config dir and project root
	ProjectDir     string   `koanf:"project_dir"`      // Project root override (default: detect from working directory)
	MaxContentSize int      `koanf:"max_content_size"` // Content size cap in characters (default: 100000)
	DeepScan       bool     `koanf:"deep_scan"`        // Run the gitleaks engine after the built-in rules
}

// RetryConfig holds retry and backoff configuration.
type RetryConfig struct {
	MaxRetries        int           `koanf:"max_retries"`        // Retries after the first attempt (default: 2)
	BaseDelay         time.Duration `koanf:"base_delay"`         // First backoff delay (default: 2s)
	MaxDelay          time.Duration `koanf:"max_delay"`          // Backoff ceiling (default: 30s)
	TimeoutMultiplier float64       `koanf:"timeout_multiplier"` // Timeout growth per timeout failure (default: 1.5)
}

// LifecycleConfig holds call coordination configuration.
type LifecycleConfig struct {
	EstimatedTokens int64         `koanf:"estimated_tokens"`  // Budget estimate per call (default: 10000)
	MinRecordTokens int64         `koanf:"min_record_tokens"` // Floor for recorded usage (default: 1000)
	BaseTimeout     time.Duration `koanf:"base_timeout"`      // Per-attempt deadline before scaling (default: 5m)
	RateLimit       float64       `koanf:"rate_limit"`        // Calls per second, 0 disables (default: 0)
	RateBurst       int           `koanf:"rate_burst"`        // Limiter burst size (default: 1)
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled bool   `koanf:"enabled"` // Write audit events (default: true)
	Path    string `koanf:"path"`    // JSONL file path (default: ~/.config/delegated/logs/audit.jsonl)
}

// LoggingConfig holds logger overrides applied on top of the logging
// package defaults.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error (default: info)
	Format string `koanf:"format"` // "json" or "console" (default: json)
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled       bool              `koanf:"enabled"`         // Export traces and metrics (default: false)
	Endpoint      string            `koanf:"endpoint"`        // OTLP endpoint (default: localhost:4317)
	Protocol      string            `koanf:"protocol"`        // "grpc" or "http/protobuf" (default: grpc)
	Insecure      bool              `koanf:"insecure"`        // Plaintext connection, local endpoints only
	TLSSkipVerify bool              `koanf:"tls_skip_verify"` // Skip TLS verification for internal CAs
	SamplingRate  float64           `koanf:"sampling_rate"`   // Trace sampling 0.0-1.0 (default: 1.0)
	Headers       map[string]Secret `koanf:"headers"`         // Extra OTLP headers, e.g. authorization
}

// Load loads configuration from the default file path and environment
// variables. Equivalent to LoadWithFile("").
func Load() (*Config, error) {
	return LoadWithFile("")
}

// FromEnv loads configuration from environment variables only, skipping the
// YAML file. Useful for embedding and tests.
//
// Environment variables:
//   - LEDGER_BACKEND: Ledger backend, "file" or "sqlite" (default: file)
//   - LEDGER_PATH: Ledger file path (default: ~/.config/delegated/state/ledger.json)
//   - LEDGER_BUDGET_LIMIT: Session token budget (default: 500000)
//   - LEDGER_MAX_CONCURRENT: Concurrent delegated calls (default: 1)
//   - GATE_CONSENT_POLICY: block, redact, or require_allowlist (default: redact)
//   - GATE_STRICT_ORIGIN: Reject content without provenance (default: true)
//   - GATE_ALLOWED_DIRS: Comma-separated extra trusted roots
//   - GATE_PROJECT_DIR: Project root override
//   - GATE_MAX_CONTENT_SIZE: Content size cap in characters (default: 100000)
//   - GATE_DEEP_SCAN: Enable the gitleaks engine (default: false)
//   - RETRY_MAX_RETRIES: Retries after the first attempt (default: 2)
//   - RETRY_BASE_DELAY: First backoff delay (default: 2s)
//   - RETRY_MAX_DELAY: Backoff ceiling (default: 30s)
//   - RETRY_TIMEOUT_MULTIPLIER: Timeout growth per timeout failure (default: 1.5)
//   - LIFECYCLE_ESTIMATED_TOKENS: Budget estimate per call (default: 10000)
//   - LIFECYCLE_MIN_RECORD_TOKENS: Floor for recorded usage (default: 1000)
//   - LIFECYCLE_BASE_TIMEOUT: Per-attempt deadline (default: 5m)
//   - LIFECYCLE_RATE_LIMIT: Calls per second, 0 disables (default: 0)
//   - LIFECYCLE_RATE_BURST: Limiter burst size (default: 1)
//   - AUDIT_ENABLED: Write audit events (default: true)
//   - AUDIT_PATH: Audit JSONL path (default: ~/.config/delegated/logs/audit.jsonl)
//   - LOGGING_LEVEL: Log level (default: info)
//   - LOGGING_FORMAT: json or console (default: json)
//   - TELEMETRY_ENABLED: Export traces and metrics (default: false)
//   - TELEMETRY_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - TELEMETRY_PROTOCOL: grpc or http/protobuf (default: grpc)
func FromEnv() (*Config, error) {
	cfg := &Config{
		Ledger: LedgerConfig{
			Backend:       getEnvString("LEDGER_BACKEND", "file"),
			Path:          getEnvString("LEDGER_PATH", ""),
			BudgetLimit:   getEnvInt64("LEDGER_BUDGET_LIMIT", 500000),
			MaxConcurrent: getEnvInt("LEDGER_MAX_CONCURRENT", 1),
		},
		Gate: GateConfig{
			ConsentPolicy:  getEnvString("GATE_CONSENT_POLICY", "redact"),
			StrictOrigin:   getEnvBool("GATE_STRICT_ORIGIN", true),
			ProjectDir:     getEnvString("GATE_PROJECT_DIR", ""),
			MaxContentSize: getEnvInt("GATE_MAX_CONTENT_SIZE", 100000),
			DeepScan:       getEnvBool("GATE_DEEP_SCAN", false),
		},
		Retry: RetryConfig{
			MaxRetries:        getEnvInt("RETRY_MAX_RETRIES", 2),
			BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			TimeoutMultiplier: getEnvFloat("RETRY_TIMEOUT_MULTIPLIER", 1.5),
		},
		Lifecycle: LifecycleConfig{
			EstimatedTokens: getEnvInt64("LIFECYCLE_ESTIMATED_TOKENS", 10000),
			MinRecordTokens: getEnvInt64("LIFECYCLE_MIN_RECORD_TOKENS", 1000),
			BaseTimeout:     getEnvDuration("LIFECYCLE_BASE_TIMEOUT", 5*time.Minute),
			RateLimit:       getEnvFloat("LIFECYCLE_RATE_LIMIT", 0),
			RateBurst:       getEnvInt("LIFECYCLE_RATE_BURST", 1),
		},
		Audit: AuditConfig{
			Enabled: getEnvBool("AUDIT_ENABLED", true),
			Path:    getEnvString("AUDIT_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("TELEMETRY_ENABLED", false),
			Endpoint:     getEnvString("TELEMETRY_ENDPOINT", "localhost:4317"),
			Protocol:     getEnvString("TELEMETRY_PROTOCOL", "grpc"),
			Insecure:     getEnvBool("TELEMETRY_INSECURE", true),
			SamplingRate: getEnvFloat("TELEMETRY_SAMPLING_RATE", 1.0),
		},
	}

	if dirs := getEnvString("GATE_ALLOWED_DIRS", ""); dirs != "" {
		cfg.Gate.AllowedDirs = splitList(dirs)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Ledger backend is not "file" or "sqlite"
//   - Budget limit or max concurrent is not positive
//   - Retry delays are not positive or max_delay < base_delay
//   - Timeout multiplier is below 1
//   - Content size cap is not positive
//
// ConsentPolicy is deliberately not validated here: the gate normalizes
// unrecognized values to "redact" with a warning.
func (c *Config) Validate() error {
	if c.Ledger.Backend != "file" && c.Ledger.Backend != "sqlite" {
		return fmt.Errorf("invalid ledger backend: %q (must be \"file\" or \"sqlite\")", c.Ledger.Backend)
	}
	if c.Ledger.Path == "" {
		return errors.New("ledger path must not be empty")
	}
	if c.Ledger.BudgetLimit <= 0 {
		return fmt.Errorf("budget limit must be positive, got %d", c.Ledger.BudgetLimit)
	}
	if c.Ledger.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.Ledger.MaxConcurrent)
	}

	if c.Gate.MaxContentSize <= 0 {
		return fmt.Errorf("max content size must be positive, got %d", c.Gate.MaxContentSize)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("max delay must be >= base delay")
	}
	if c.Retry.TimeoutMultiplier < 1 {
		return fmt.Errorf("timeout multiplier must be >= 1, got %g", c.Retry.TimeoutMultiplier)
	}

	if c.Lifecycle.EstimatedTokens <= 0 {
		return fmt.Errorf("estimated tokens must be positive, got %d", c.Lifecycle.EstimatedTokens)
	}
	if c.Lifecycle.MinRecordTokens < 0 {
		return fmt.Errorf("min record tokens must be >= 0, got %d", c.Lifecycle.MinRecordTokens)
	}
	if c.Lifecycle.BaseTimeout <= 0 {
		return errors.New("base timeout must be positive")
	}
	if c.Lifecycle.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %g", c.Lifecycle.RateLimit)
	}
	if c.Lifecycle.RateLimit > 0 && c.Lifecycle.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when rate limiting, got %d", c.Lifecycle.RateBurst)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return errors.New("audit path must not be empty when audit is enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint required when telemetry is enabled")
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("sampling rate must be between 0 and 1, got %g", c.Telemetry.SamplingRate)
		}
	}

	return nil
}

// DefaultConfigDir returns the delegated configuration directory,
// ~/.config/delegated.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "delegated"), nil
}

// DefaultConfigPath returns the default YAML config path,
// ~/.config/delegated/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultLedgerPath returns the default ledger path for the given backend.
func DefaultLedgerPath(backend string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	name := "ledger.json"
	if backend == "sqlite" {
		name = "ledger.db"
	}
	return filepath.Join(dir, "state", name), nil
}

// DefaultAuditPath returns the default audit trail path,
// ~/.config/delegated/logs/audit.jsonl.
func DefaultAuditPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "audit.jsonl"), nil
}

// EnsureConfigDir creates the delegated config directory tree if it doesn't
// exist. This is called during startup so new users have the directories
// ready. Directories are created with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, sub := range []string{"", "state", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", filepath.Join(dir, sub), err)
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "file"
	}
	if cfg.Ledger.Path == "" {
		path, err := DefaultLedgerPath(cfg.Ledger.Backend)
		if err != nil {
			return err
		}
		cfg.Ledger.Path = path
	}
	if cfg.Ledger.BudgetLimit == 0 {
		cfg.Ledger.BudgetLimit = 500000
	}
	if cfg.Ledger.MaxConcurrent == 0 {
		cfg.Ledger.MaxConcurrent = 1
	}

	// Gate defaults
	if cfg.Gate.ConsentPolicy == "" {
		cfg.Gate.ConsentPolicy = "redact"
	}
	if cfg.Gate.MaxContentSize == 0 {
		cfg.Gate.MaxContentSize = 100000
	}

	// Retry defaults
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 2 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.TimeoutMultiplier == 0 {
		cfg.Retry.TimeoutMultiplier = 1.5
	}

	// Lifecycle defaults
	if cfg.Lifecycle.EstimatedTokens == 0 {
		cfg.Lifecycle.EstimatedTokens = 10000
	}
	if cfg.Lifecycle.MinRecordTokens == 0 {
		cfg.Lifecycle.MinRecordTokens = 1000
	}
	if cfg.Lifecycle.BaseTimeout == 0 {
		cfg.Lifecycle.BaseTimeout = 5 * time.Minute
	}
	if cfg.Lifecycle.RateBurst == 0 {
		cfg.Lifecycle.RateBurst = 1
	}

	// Audit defaults
	if cfg.Audit.Path == "" {
		path, err := DefaultAuditPath()
		if err != nil {
			return err
		}
		cfg.Audit.Path = path
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
