package lifecycle

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/delegated/internal/resilience"
)

// Sentinel errors for aborted invocations. Budget and concurrency aborts
// are soft: the caller should wait or defer. A blocked abort is a hard
// policy violation, never retried and never wrapped in a fallback
// envelope.
var (
	ErrBudgetExceeded   = errors.New("session token budget exceeded")
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
	ErrContextBlocked   = errors.New("content blocked by safety gate")
)

// CallRequest describes one delegate invocation.
type CallRequest struct {
	// AgentID names the delegate (codex, gemini, ...).
	AgentID string `json:"agent_id"`

	// Task is the raw outbound content. It passes through the safety
	// gate before the adapter ever sees it.
	Task string `json:"task"`

	// Sources is the asserted provenance for Task. Empty means unknown
	// origin, which the gate handles per policy.
	Sources []string `json:"sources,omitempty"`

	// EstimatedTokens overrides the configured budget estimate when
	// positive.
	EstimatedTokens int64 `json:"estimated_tokens,omitempty"`
}

// CallResult is the terminal outcome of an invocation that reached the
// delegate. Policy aborts surface as sentinel errors instead.
type CallResult struct {
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`

	// Payload is the delegate's output on success.
	Payload string `json:"payload,omitempty"`

	// Error and FailureKind describe the final failure.
	Error       string                 `json:"error,omitempty"`
	FailureKind resilience.FailureKind `json:"failure_kind,omitempty"`

	// Fallback carries the envelope built for a permanent failure.
	Fallback *resilience.Envelope `json:"fallback,omitempty"`

	// Attempts is the number of delegate attempts made.
	Attempts int `json:"attempts"`

	// Truncated and Findings report what the gate did to the task.
	Truncated bool `json:"truncated,omitempty"`
	Findings  int  `json:"findings,omitempty"`

	// TokensRecorded and Duration are the usage written to the ledger.
	TokensRecorded int64         `json:"tokens_recorded"`
	Duration       time.Duration `json:"duration"`
}
