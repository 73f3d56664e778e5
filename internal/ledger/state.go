package ledger

import "time"

// CallRecord is one completed delegate call, immutable once appended.
type CallRecord struct {
	Agent      string    `json:"agent"`
	Tokens     int64     `json:"tokens"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the durable ledger state shared by all processes in a session.
//
// Invariants: ActiveCalls >= 0; TotalTokens is monotonically non-decreasing
// within a session; limits change only via an explicit reset.
type State struct {
	TotalTokens   int64        `json:"total_tokens"`
	Calls         []CallRecord `json:"calls"`
	ActiveCalls   int          `json:"active_calls"`
	BudgetLimit   int64        `json:"budget_limit"`
	MaxConcurrent int          `json:"max_concurrent"`
}

// Limits carries the configured session limits applied to lazily-created
// or reset state.
type Limits struct {
	BudgetLimit   int64
	MaxConcurrent int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		BudgetLimit:   500000,
		MaxConcurrent: 1,
	}
}

// normalize fills zero-valued fields with the configured limits, mirroring
// the lazy-creation semantics: a missing or empty backing file behaves as
// a fresh session.
func (s *State) normalize(limits Limits) {
	if s.Calls == nil {
		s.Calls = []CallRecord{}
	}
	if s.BudgetLimit == 0 {
		s.BudgetLimit = limits.BudgetLimit
	}
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = limits.MaxConcurrent
	}
	if s.ActiveCalls < 0 {
		s.ActiveCalls = 0
	}
}

// reset returns state to a fresh session under the given limits.
func (s *State) reset(limits Limits) {
	s.TotalTokens = 0
	s.Calls = []CallRecord{}
	s.ActiveCalls = 0
	s.BudgetLimit = limits.BudgetLimit
	s.MaxConcurrent = limits.MaxConcurrent
}

// Remaining returns the unspent budget. May be negative after soft
// overspend under degraded recording.
func (s State) Remaining() int64 {
	return s.BudgetLimit - s.TotalTokens
}
