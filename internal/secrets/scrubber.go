package secrets

import (
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts secrets in content.
type Scrubber interface {
	// Scrub detects secrets and replaces every matched span with the
	// redaction placeholder.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// scrubber is the built-in implementation running the fixed rule battery.
type scrubber struct {
	config *Config
}

// span tracks a matched region to redact.
type span struct {
	start, end int
}

// New creates a Scrubber with the given configuration.
// A nil config uses DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// MustNew creates a Scrubber, panicking on error. For use with the fixed
// default battery, which is known-valid.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub detects and redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	result := s.scan(content)

	if len(result.Findings) > 0 {
		spans := make([]span, 0, len(result.Findings))
		for _, f := range result.Findings {
			spans = append(spans, span{start: f.StartIndex, end: f.EndIndex})
		}
		result.Scrubbed = redactSpans(content, spans, s.config.RedactionString)
	}

	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	return s.scan(content)
}

// IsEnabled returns whether scrubbing is active.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

// scan runs every rule over the content and collects findings. Scrubbed is
// left equal to Original; Scrub overwrites it afterwards.
func (s *scrubber) scan(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	if !s.config.Enabled {
		result.Duration = time.Since(start)
		return result
	}

	for _, rule := range s.config.compiledRules {
		if !rule.hasKeyword(content) {
			continue
		}

		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			matched := content[match[0]:match[1]]
			if s.isAllowed(matched) {
				continue
			}

			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Sample:      sample(matched),
				Line:        strings.Count(content[:match[0]], "\n") + 1,
				StartIndex:  match[0],
				EndIndex:    match[1],
			})
			result.ByRule[rule.ID]++
		}
	}

	result.TotalFindings = len(result.Findings)
	result.Duration = time.Since(start)
	return result
}

// isAllowed checks the match against the allow list.
func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// redactSpans replaces the given spans with the placeholder. Overlapping or
// adjacent spans are merged first, then applied in reverse order so earlier
// indices stay valid.
func redactSpans(content string, spans []span, placeholder string) string {
	if len(spans) == 0 {
		return content
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}

	out := content
	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		if r.start < 0 || r.end > len(out) || r.start >= r.end {
			continue
		}
		out = out[:r.start] + placeholder + out[r.end:]
	}
	return out
}

// NoopScrubber performs no detection. Used when scrubbing is disabled and
// in tests that need a pass-through gate.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
)
