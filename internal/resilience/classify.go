package resilience

import "strings"

// FailureKind classifies a delegate failure to select a retry strategy.
type FailureKind string

const (
	// KindPermanent failures are never retried: the delegate binary is
	// missing, authentication failed, or the process died to a signal.
	KindPermanent FailureKind = "permanent"

	// KindTimeout failures are retried with a grown per-attempt deadline.
	KindTimeout FailureKind = "timeout"

	// KindRateLimit failures are retried after a stretched backoff.
	KindRateLimit FailureKind = "rate_limit"

	// KindTransient is the default: network blips and everything else
	// worth an ordinary retry.
	KindTransient FailureKind = "transient"

	// KindBlocked marks a safety-gate rejection. Never retried and never
	// produced by Classify; attempts pre-classify themselves with it.
	KindBlocked FailureKind = "blocked"
)

// Retryable reports whether another attempt could change the outcome.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindPermanent, KindBlocked:
		return false
	default:
		return true
	}
}

// Classify maps an error message and process return code to a
// FailureKind using case-insensitive keyword heuristics. A return code
// above 128 means the process was signal-killed, which no retry fixes.
func Classify(errorText string, returnCode int) FailureKind {
	lower := strings.ToLower(errorText)

	switch {
	case strings.Contains(lower, "not_installed"), strings.Contains(lower, "not found"):
		return KindPermanent
	case strings.Contains(lower, "auth"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"):
		return KindPermanent
	case strings.Contains(lower, "timeout"):
		return KindTimeout
	case strings.Contains(lower, "rate"),
		strings.Contains(lower, "429"),
		strings.Contains(lower, "quota"):
		return KindRateLimit
	case returnCode > 128:
		return KindPermanent
	default:
		return KindTransient
	}
}
