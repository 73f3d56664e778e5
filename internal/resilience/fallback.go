package resilience

import "fmt"

// fallbackTaskLimit bounds how much of the original task a fallback
// envelope may carry, before redaction.
const fallbackTaskLimit = 200

// degradedTaskLimit is the harsher cut used when redaction itself fails.
const degradedTaskLimit = 50

// Redactor scrubs secrets from text. The safety gate's Redact method
// satisfies it.
type Redactor func(content string) (string, error)

// Envelope is the terminal, user-visible representation of a permanent
// delegate failure. It never contains unredacted task content.
type Envelope struct {
	AgentID              string      `json:"agent_id"`
	FailureKind          FailureKind `json:"failure_kind"`
	Error                string      `json:"error"`
	Recommendation       string      `json:"recommendation"`
	OriginalTaskRedacted string      `json:"original_task_redacted"`
}

// Fallback builds the envelope for a permanently failed delegate call.
// The task excerpt passes through redact before embedding; if redaction
// itself fails, the excerpt degrades to a short truncated prefix rather
// than risking a leak.
func Fallback(agentID, originalTask string, result AttemptResult, redact Redactor) Envelope {
	kind := result.Kind
	if kind == "" {
		kind = Classify(result.Error, result.Returncode)
	}
	errText := result.Error
	if errText == "" {
		errText = "unknown"
	}

	excerpt := truncateRunes(originalTask, fallbackTaskLimit)
	safe, err := redactExcerpt(redact, excerpt)
	if err != nil {
		// Redaction unavailable: carry only a short prefix.
		safe = truncateRunes(originalTask, degradedTaskLimit)
		if len(safe) < len(originalTask) {
			safe += "..."
		}
	}
	excerpt = safe

	return Envelope{
		AgentID:     agentID,
		FailureKind: kind,
		Error:       errText,
		Recommendation: fmt.Sprintf(
			"%s is unavailable (%s); handle this task directly or defer it",
			agentID, errText),
		OriginalTaskRedacted: excerpt,
	}
}

func redactExcerpt(redact Redactor, excerpt string) (string, error) {
	if redact == nil {
		return "", fmt.Errorf("no redactor configured")
	}
	return redact(excerpt)
}

// truncateRunes cuts s to at most limit runes, never splitting one.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
