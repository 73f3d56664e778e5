package guard

// Outcome is the terminal state of a gate pass.
type Outcome string

const (
	// OutcomePassed means zero findings: content is unchanged apart from
	// truncation.
	OutcomePassed Outcome = "passed"

	// OutcomeRedacted means findings were replaced in place.
	OutcomeRedacted Outcome = "redacted"

	// OutcomeRejected means the call must not proceed.
	OutcomeRejected Outcome = "rejected"
)

// Decision is the gate's tagged result: exactly one of Passed(content),
// Redacted(content), or Rejected(reason). Never ambiguous, never a panic.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Content is the sanitized content. Empty on rejection.
	Content string `json:"content,omitempty"`

	// Reason explains a rejection. Empty otherwise.
	Reason string `json:"reason,omitempty"`

	// Findings is the number of detected secrets, Rules the matching
	// rule IDs. The secrets themselves are never carried.
	Findings int      `json:"findings,omitempty"`
	Rules    []string `json:"rules,omitempty"`

	// Truncated marks content cut at the size cap.
	Truncated bool `json:"truncated,omitempty"`
}

// Rejected reports whether the decision is terminal.
func (d Decision) Rejected() bool {
	return d.Outcome == OutcomeRejected
}

func passed(content string, truncated bool) Decision {
	return Decision{Outcome: OutcomePassed, Content: content, Truncated: truncated}
}

func redacted(content string, findings int, rules []string, truncated bool) Decision {
	return Decision{
		Outcome:   OutcomeRedacted,
		Content:   content,
		Findings:  findings,
		Rules:     rules,
		Truncated: truncated,
	}
}

func rejected(reason string) Decision {
	return Decision{Outcome: OutcomeRejected, Reason: reason}
}
