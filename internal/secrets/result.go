package secrets

import "time"

// Result contains the outcome of a scan or redaction pass.
type Result struct {
	// Original is the original input content, never serialized.
	Original string `json:"-"`

	// Scrubbed is the content with secrets redacted. Equal to Original
	// when nothing matched or the pass was check-only.
	Scrubbed string `json:"scrubbed"`

	// Findings describes the detected secrets without their values.
	Findings []Finding `json:"findings,omitempty"`

	// TotalFindings is the count of secrets found.
	TotalFindings int `json:"total_findings"`

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int `json:"by_rule,omitempty"`

	// Duration is how long the pass took.
	Duration time.Duration `json:"duration"`
}

// Finding represents one detected secret occurrence. The raw match is
// deliberately absent; Sample carries at most the first 8 characters.
type Finding struct {
	// RuleID identifies which rule matched.
	RuleID string `json:"rule_id"`

	// Description explains what was found.
	Description string `json:"description"`

	// Sample is the first 8 characters of the match followed by "***",
	// safe to log and audit.
	Sample string `json:"sample"`

	// Line is the 1-indexed line number of the match start.
	Line int `json:"line"`

	// StartIndex and EndIndex bound the match in the original content.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the unique rule IDs that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	return ids
}

// sample truncates a match to its first 8 characters plus a "***" marker.
// The full match never leaves this function's caller.
func sample(match string) string {
	const prefix = 8
	if len(match) > prefix {
		match = match[:prefix]
	}
	return match + "***"
}
