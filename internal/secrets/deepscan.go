package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// deepScrubber runs the Gitleaks detector (800+ rules) behind the same
// Scrubber interface as the built-in battery. It is layered after the fixed
// rules when gate.deep_scan is enabled.
type deepScrubber struct {
	detector    *detect.Detector
	placeholder string
}

// NewDeepScrubber creates a gitleaks-backed Scrubber. The allowlist is
// optional; nil skips allowlisting.
func NewDeepScrubber(allowlist *Allowlist) (Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}

	return &deepScrubber{
		detector:    detector,
		placeholder: RedactionPlaceholder,
	}, nil
}

// Scrub detects secrets via gitleaks and redacts every occurrence of
// each detected value. Replacing by value rather than by position keeps
// the redaction correct regardless of how gitleaks indexes lines and
// columns, and catches repeats the detector deduplicated.
func (d *deepScrubber) Scrub(content string) *Result {
	result, matched := d.detect(content)
	if len(matched) == 0 {
		return result
	}
	scrubbed := content
	for _, secret := range matched {
		scrubbed = strings.ReplaceAll(scrubbed, secret, d.placeholder)
	}
	result.Scrubbed = scrubbed
	return result
}

// Check detects secrets without redacting.
func (d *deepScrubber) Check(content string) *Result {
	result, _ := d.detect(content)
	return result
}

// detect runs the gitleaks detector. Gitleaks reports 0-based lines and
// 1-based line-relative columns; findings normalize to the 1-indexed
// lines and column offsets the built-in battery uses. The raw matches
// are returned separately and never enter a Finding.
func (d *deepScrubber) detect(content string) (*Result, []string) {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	var matched []string
	seen := make(map[string]struct{})
	for _, f := range d.detector.DetectString(content) {
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Sample:      sample(f.Secret),
			Line:        f.StartLine + 1,
			StartIndex:  f.StartColumn - 1,
			EndIndex:    f.EndColumn,
		})
		result.ByRule[f.RuleID]++
		if f.Secret == "" {
			continue
		}
		if _, dup := seen[f.Secret]; !dup {
			seen[f.Secret] = struct{}{}
			matched = append(matched, f.Secret)
		}
	}

	result.TotalFindings = len(result.Findings)
	result.Duration = time.Since(start)
	return result, matched
}

// IsEnabled returns true.
func (d *deepScrubber) IsEnabled() bool {
	return true
}

// applyAllowlist merges allowlist patterns into the gitleaks config.
// Patterns are pre-validated by LoadAllowlists.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "delegated user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re := regexp.MustCompile(pattern)
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	cfg.Allowlists = append(cfg.Allowlists, global)
}

var _ Scrubber = (*deepScrubber)(nil)
