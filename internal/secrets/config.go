package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactionPlaceholder replaces every matched span during redaction.
const RedactionPlaceholder = "[REDACTED]"

// Config configures the built-in scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true).
	Enabled bool `koanf:"enabled"`

	// Rules defines the detection rules (default: DefaultRules).
	Rules []Rule `koanf:"rules"`

	// RedactionString replaces detected secrets (default: "[REDACTED]").
	RedactionString string `koanf:"redaction_string"`

	// AllowList contains match patterns to skip during scrubbing.
	AllowList []string `koanf:"allow_list"`

	// compiled patterns (populated by Validate)
	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `koanf:"id"`

	// Description explains what this rule detects.
	Description string `koanf:"description"`

	// Pattern is the regex matched against content.
	Pattern string `koanf:"pattern"`

	// Keywords optionally gate the rule: the pattern only runs when at
	// least one keyword appears in the content (cheap prefilter for the
	// generic assignment rules).
	Keywords []string `koanf:"keywords"`
}

// compiledRule holds a rule with its compiled pattern.
type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// DefaultConfig returns a configuration with the fixed detection battery.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: RedactionPlaceholder,
		Rules:           DefaultRules(),
	}
}

// Validate validates and compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RedactionString == "" {
		c.RedactionString = RedactionPlaceholder
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		c.compiledRules = append(c.compiledRules, &compiledRule{
			Rule:    rule,
			pattern: pattern,
		})
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}

	return nil
}

// hasKeyword reports whether content contains any of the rule's keywords,
// case-insensitively. Rules without keywords always run.
func (r *compiledRule) hasKeyword(content string) bool {
	if len(r.Keywords) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
