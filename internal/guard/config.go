package guard

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Policy is the consent policy for unknown-origin or secret-bearing
// content.
type Policy string

const (
	// PolicyBlock aborts the call on any finding.
	PolicyBlock Policy = "block"

	// PolicyRedact replaces findings in place and proceeds. The default.
	PolicyRedact Policy = "redact"

	// PolicyRequireAllowlist unconditionally rejects unknown-origin
	// content.
	PolicyRequireAllowlist Policy = "require_allowlist"
)

// TruncationMarker is appended to content cut at the size cap.
const TruncationMarker = "\n\n[TRUNCATED: content exceeded size limit]"

// Config configures the gate.
type Config struct {
	// ConsentPolicy is one of block, redact, require_allowlist.
	// Unrecognized values fall back to redact with a warning.
	ConsentPolicy string

	// StrictOrigin rejects unknown-origin content under every policy.
	// Default on: fail-closed.
	StrictOrigin bool

	// MaxContentSize caps outbound content in characters (default 100000).
	MaxContentSize int

	// ConfigDir is the user configuration directory, always trusted.
	ConfigDir string

	// ProjectDir is the active project root, trusted when set.
	ProjectDir string

	// AllowedDirs are operator-declared extra trusted roots.
	AllowedDirs []string
}

// DefaultConfig returns the fail-closed defaults.
func DefaultConfig() *Config {
	return &Config{
		ConsentPolicy:  string(PolicyRedact),
		StrictOrigin:   true,
		MaxContentSize: 100000,
	}
}

// normalizePolicy maps the raw configured value to a Policy, reporting
// whether it was recognized.
func normalizePolicy(raw string) (Policy, bool) {
	switch Policy(strings.TrimSpace(raw)) {
	case PolicyBlock:
		return PolicyBlock, true
	case PolicyRedact:
		return PolicyRedact, true
	case PolicyRequireAllowlist:
		return PolicyRequireAllowlist, true
	case "":
		return PolicyRedact, true
	default:
		return PolicyRedact, false
	}
}

// blockedExtensions are file extensions never sent to delegates.
var blockedExtensions = map[string]struct{}{
	".env":         {},
	".pem":         {},
	".key":         {},
	".p12":         {},
	".pfx":         {},
	".jks":         {},
	".keystore":    {},
	".credentials": {},
	".secret":      {},
}

// blockedNamePatterns are filename signatures never sent to delegates.
var blockedNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.env(\.\w+)*$`), // .env.production.local and friends
	regexp.MustCompile(`(?i)credentials\.json$`),
	regexp.MustCompile(`(?i)serviceaccount.*\.json$`),
	regexp.MustCompile(`.*_rsa$`),
	regexp.MustCompile(`id_ed25519$`),
}

// fileBlocked reports whether a provenance path matches a sensitive-file
// signature.
func fileBlocked(path string) bool {
	if _, hit := blockedExtensions[strings.ToLower(filepath.Ext(path))]; hit {
		return true
	}
	name := filepath.Base(path)
	for _, pattern := range blockedNamePatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}
