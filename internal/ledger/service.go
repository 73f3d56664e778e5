package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/delegated/internal/ledger"

// errSlotsFull signals that AcquireSlot found no free slot. Distinct from
// I/O failure so the caller's fail-closed path can tell "full" from
// "broken" in logs; both return false.
var errSlotsFull = errors.New("all concurrency slots in use")

// BudgetStatus is the result of CheckBudget.
type BudgetStatus struct {
	Allowed       bool  `json:"allowed"`
	Remaining     int64 `json:"remaining"`
	Used          int64 `json:"used"`
	Limit         int64 `json:"limit"`
	ActiveCalls   int   `json:"active_calls"`
	MaxConcurrent int   `json:"max_concurrent"`

	// Degraded marks a permissive fallback after a store failure.
	Degraded bool `json:"degraded,omitempty"`
}

// AgentUsage aggregates calls and tokens for one agent.
type AgentUsage struct {
	Calls  int   `json:"calls"`
	Tokens int64 `json:"tokens"`
}

// Summary is the session usage rollup.
type Summary struct {
	TotalTokens     int64                 `json:"total_tokens"`
	TotalCalls      int                   `json:"total_calls"`
	RemainingTokens int64                 `json:"remaining_tokens"`
	BudgetLimit     int64                 `json:"budget_limit"`
	ByAgent         map[string]AgentUsage `json:"by_agent"`
	Degraded        bool                  `json:"degraded,omitempty"`
}

// Service is the process ledger: the single source of truth for token
// spend and in-flight call count across processes.
type Service interface {
	// CheckBudget reports whether a call estimated at estimatedTokens may
	// proceed. Read-only; never returns an error: store failures yield a
	// permissive degraded status.
	CheckBudget(ctx context.Context, estimatedTokens int64) BudgetStatus

	// AcquireSlot atomically test-and-increments the in-flight call count
	// against max_concurrent. Returns false without mutation when full,
	// and false on any failure (fail-closed).
	AcquireSlot(ctx context.Context, agentID string) bool

	// ReleaseSlot atomically decrements the in-flight call count, floored
	// at zero. Failures are swallowed.
	ReleaseSlot(ctx context.Context)

	// RecordCall appends a call record and adds to the session total.
	// Best-effort; failure never affects the caller's result.
	RecordCall(ctx context.Context, agentID string, tokens int64, duration time.Duration)

	// ResetSession zeroes usage, in-flight count, and the call log, and
	// restores the configured limits.
	ResetSession(ctx context.Context) error

	// Summary returns session totals with per-agent aggregation. Store
	// failures yield a zero-valued degraded summary.
	Summary(ctx context.Context) Summary

	// Close releases the underlying store.
	Close() error
}

// service implements Service.
type service struct {
	limits Limits
	store  Store
	logger *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	degradedTotal  metric.Int64Counter
	slotsAcquired  metric.Int64Counter
	tokensRecorded metric.Int64Counter
	sessionsReset  metric.Int64Counter

	// In-process serialization, always paired with the store's
	// cross-process lock: sibling processes share no memory.
	mu sync.Mutex
}

// NewService creates a ledger service over the given store.
func NewService(store Store, limits Limits, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.BudgetLimit == 0 || limits.MaxConcurrent == 0 {
		def := DefaultLimits()
		if limits.BudgetLimit == 0 {
			limits.BudgetLimit = def.BudgetLimit
		}
		if limits.MaxConcurrent == 0 {
			limits.MaxConcurrent = def.MaxConcurrent
		}
	}

	s := &service{
		limits: limits,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.degradedTotal, err = s.meter.Int64Counter(
		"delegated.ledger.degraded_total",
		metric.WithDescription("Ledger operations that fell back to permissive defaults"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create degraded counter", zap.Error(err))
	}

	s.slotsAcquired, err = s.meter.Int64Counter(
		"delegated.ledger.slots_acquired_total",
		metric.WithDescription("Concurrency slots acquired"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		s.logger.Warn("failed to create slots counter", zap.Error(err))
	}

	s.tokensRecorded, err = s.meter.Int64Counter(
		"delegated.ledger.tokens_recorded_total",
		metric.WithDescription("Tokens recorded against the session budget"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		s.logger.Warn("failed to create tokens counter", zap.Error(err))
	}

	s.sessionsReset, err = s.meter.Int64Counter(
		"delegated.ledger.sessions_reset_total",
		metric.WithDescription("Session boundary resets"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		s.logger.Warn("failed to create resets counter", zap.Error(err))
	}
}

// CheckBudget implements Service. Fail-open: soft budget overspend is
// acceptable, blocking the primary task is not.
func (s *service) CheckBudget(ctx context.Context, estimatedTokens int64) BudgetStatus {
	ctx, span := s.tracer.Start(ctx, "ledger.check_budget")
	defer span.End()
	span.SetAttributes(attribute.Int64("estimated_tokens", estimatedTokens))

	s.mu.Lock()
	defer s.mu.Unlock()

	var status BudgetStatus
	err := s.store.View(ctx, func(state State) error {
		remaining := state.Remaining()
		status = BudgetStatus{
			Allowed:       remaining >= estimatedTokens && state.ActiveCalls < state.MaxConcurrent,
			Remaining:     remaining,
			Used:          state.TotalTokens,
			Limit:         state.BudgetLimit,
			ActiveCalls:   state.ActiveCalls,
			MaxConcurrent: state.MaxConcurrent,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "check_budget", err)
		return BudgetStatus{
			Allowed:       true,
			Remaining:     s.limits.BudgetLimit,
			Limit:         s.limits.BudgetLimit,
			MaxConcurrent: s.limits.MaxConcurrent,
			Degraded:      true,
		}
	}

	span.SetAttributes(attribute.Bool("allowed", status.Allowed))
	return status
}

// AcquireSlot implements Service. Fail-closed.
func (s *service) AcquireSlot(ctx context.Context, agentID string) bool {
	ctx, span := s.tracer.Start(ctx, "ledger.acquire_slot")
	defer span.End()
	span.SetAttributes(attribute.String("agent", agentID))

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithLock(ctx, func(state *State) error {
		if state.ActiveCalls >= state.MaxConcurrent {
			return errSlotsFull
		}
		state.ActiveCalls++
		return nil
	})
	switch {
	case err == nil:
		if s.slotsAcquired != nil {
			s.slotsAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentID)))
		}
		span.SetAttributes(attribute.Bool("acquired", true))
		return true
	case errors.Is(err, errSlotsFull):
		span.SetAttributes(attribute.Bool("acquired", false))
		s.logger.Debug("concurrency slots full", zap.String("agent", agentID))
		return false
	default:
		span.RecordError(err)
		s.logger.Warn("slot acquisition failed closed",
			zap.String("agent", agentID), zap.Error(err))
		if s.degradedTotal != nil {
			s.degradedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "acquire_slot")))
		}
		return false
	}
}

// ReleaseSlot implements Service. Fail-open.
func (s *service) ReleaseSlot(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "ledger.release_slot")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithLock(ctx, func(state *State) error {
		if state.ActiveCalls > 0 {
			state.ActiveCalls--
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "release_slot", err)
	}
}

// RecordCall implements Service. Best-effort.
func (s *service) RecordCall(ctx context.Context, agentID string, tokens int64, duration time.Duration) {
	ctx, span := s.tracer.Start(ctx, "ledger.record_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent", agentID),
		attribute.Int64("tokens", tokens),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithLock(ctx, func(state *State) error {
		state.TotalTokens += tokens
		state.Calls = append(state.Calls, CallRecord{
			Agent:      agentID,
			Tokens:     tokens,
			DurationMS: duration.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "record_call", err)
		return
	}

	if s.tokensRecorded != nil {
		s.tokensRecorded.Add(ctx, tokens, metric.WithAttributes(attribute.String("agent", agentID)))
	}
}

// ResetSession implements Service.
func (s *service) ResetSession(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "ledger.reset_session")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.WithLock(ctx, func(state *State) error {
		state.reset(s.limits)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if s.sessionsReset != nil {
		s.sessionsReset.Add(ctx, 1)
	}
	s.logger.Info("session ledger reset",
		zap.Int64("budget_limit", s.limits.BudgetLimit),
		zap.Int("max_concurrent", s.limits.MaxConcurrent))
	return nil
}

// Summary implements Service. Fail-open.
func (s *service) Summary(ctx context.Context) Summary {
	ctx, span := s.tracer.Start(ctx, "ledger.summary")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var summary Summary
	err := s.store.View(ctx, func(state State) error {
		byAgent := make(map[string]AgentUsage)
		for _, call := range state.Calls {
			usage := byAgent[call.Agent]
			usage.Calls++
			usage.Tokens += call.Tokens
			byAgent[call.Agent] = usage
		}
		summary = Summary{
			TotalTokens:     state.TotalTokens,
			TotalCalls:      len(state.Calls),
			RemainingTokens: state.Remaining(),
			BudgetLimit:     state.BudgetLimit,
			ByAgent:         byAgent,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.degrade(ctx, "summary", err)
		return Summary{
			RemainingTokens: s.limits.BudgetLimit,
			BudgetLimit:     s.limits.BudgetLimit,
			ByAgent:         map[string]AgentUsage{},
			Degraded:        true,
		}
	}

	return summary
}

// Close implements Service.
func (s *service) Close() error {
	return s.store.Close()
}

// degrade surfaces a fail-open fallback observably: WARN log plus counter,
// never a silent catch-and-ignore.
func (s *service) degrade(ctx context.Context, operation string, err error) {
	s.logger.Warn("ledger degraded to permissive fallback",
		zap.String("operation", operation), zap.Error(err))
	if s.degradedTotal != nil {
		s.degradedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

var _ Service = (*service)(nil)
