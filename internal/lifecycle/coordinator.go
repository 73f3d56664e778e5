package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/delegated/internal/guard"
	"github.com/fyrsmithlabs/delegated/internal/ledger"
	"github.com/fyrsmithlabs/delegated/internal/logging"
	"github.com/fyrsmithlabs/delegated/internal/resilience"
)

const instrumentationName = "github.com/fyrsmithlabs/delegated/internal/lifecycle"

// Config tunes the coordinator.
type Config struct {
	// EstimatedTokens is the budget estimate per call (default 10000).
	EstimatedTokens int64

	// MinRecordTokens floors the recorded usage (default 1000).
	MinRecordTokens int64

	// RateLimit is a client-side calls-per-second smoother, awaited
	// before the first attempt. Zero disables it.
	RateLimit float64

	// RateBurst is the limiter burst size (default 1 when limiting).
	RateBurst int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.EstimatedTokens == 0 {
		c.EstimatedTokens = 10000
	}
	if c.MinRecordTokens == 0 {
		c.MinRecordTokens = 1000
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
}

// Coordinator runs the mandatory call sequence around a delegate
// adapter.
type Coordinator struct {
	config  Config
	ledger  ledger.Service
	gate    guard.Service
	retryer *resilience.Retryer
	limiter *rate.Limiter
	logger  *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter
	calls  metric.Int64Counter
}

// NewCoordinator wires the ledger, gate, and retry engine together. All
// three are required; a nil logger is replaced with a no-op.
func NewCoordinator(cfg Config, led ledger.Service, gate guard.Service, retryer *resilience.Retryer, logger *zap.Logger) (*Coordinator, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate service is required")
	}
	if retryer == nil {
		return nil, fmt.Errorf("retryer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	c := &Coordinator{
		config:  cfg,
		ledger:  led,
		gate:    gate,
		retryer: retryer,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	var err error
	c.calls, err = c.meter.Int64Counter(
		"delegated.calls_total",
		metric.WithDescription("Delegate invocations by terminal status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		c.logger.Warn("failed to create calls counter", zap.Error(err))
	}

	return c, nil
}

// Invoke runs one delegate call end to end: budget check, slot
// acquisition, gated retries against the adapter, fallback on permanent
// failure. The slot is released exactly once and usage is recorded on
// every path that acquired it. Policy aborts return the sentinel errors;
// everything that reached the delegate returns a CallResult.
func (c *Coordinator) Invoke(ctx context.Context, adapter Adapter, req CallRequest) (*CallResult, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.invoke",
		trace.WithAttributes(attribute.String("agent_id", req.AgentID)))
	defer span.End()

	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if req.AgentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}

	estimate := req.EstimatedTokens
	if estimate <= 0 {
		estimate = c.config.EstimatedTokens
	}

	status := c.ledger.CheckBudget(ctx, estimate)
	if !status.Allowed {
		if status.ActiveCalls >= status.MaxConcurrent {
			c.count(ctx, "concurrency_limit")
			return nil, fmt.Errorf("%w: %d call(s) in flight (max %d)",
				ErrConcurrencyLimit, status.ActiveCalls, status.MaxConcurrent)
		}
		c.count(ctx, "budget_exceeded")
		return nil, fmt.Errorf("%w: %d of %d tokens remaining, estimated %d",
			ErrBudgetExceeded, status.Remaining, status.Limit, estimate)
	}

	if !c.ledger.AcquireSlot(ctx, req.AgentID) {
		c.count(ctx, "concurrency_limit")
		return nil, fmt.Errorf("%w: no slot available for %s", ErrConcurrencyLimit, req.AgentID)
	}

	start := time.Now()
	result := &CallResult{AgentID: req.AgentID}

	defer func() {
		// The caller's context may be canceled by the time the call
		// unwinds; the release and record must still reach the store,
		// or the slot stays held in the durable ledger.
		cleanup := context.WithoutCancel(ctx)
		result.Duration = time.Since(start)
		result.TokensRecorded = c.estimateUsage(result.Payload)
		c.ledger.ReleaseSlot(cleanup)
		c.ledger.RecordCall(cleanup, req.AgentID, result.TokensRecorded, result.Duration)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.count(ctx, "canceled")
			result.Error = err.Error()
			return result, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	attempt := c.retryer.Retry(ctx, func(timeoutScale float64) resilience.AttemptResult {
		decision := c.gate.Guard(ctx, req.Task, req.Sources)
		result.Truncated = decision.Truncated
		result.Findings = decision.Findings
		if decision.Rejected() {
			return resilience.AttemptResult{
				Error: fmt.Sprintf("context_blocked: %s", decision.Reason),
				Kind:  resilience.KindBlocked,
			}
		}
		return adapter.Call(ctx, decision.Content, timeoutScale)
	})

	result.Attempts = attempt.Attempts
	result.FailureKind = attempt.Kind
	result.Error = attempt.Error
	span.SetAttributes(attribute.Int("attempts", attempt.Attempts))

	if attempt.Success {
		result.Success = true
		result.Payload = attempt.Payload
		c.count(ctx, "success")
		span.SetAttributes(attribute.String("status", "success"))
		return result, nil
	}

	if attempt.Kind == resilience.KindBlocked {
		c.count(ctx, "blocked")
		span.SetAttributes(attribute.String("status", "blocked"))
		c.logger.Warn("delegate call blocked by safety gate",
			zap.String("agent_id", req.AgentID),
			zap.String("error", attempt.Error),
			logging.TaskContent("task", req.Task))
		return result, fmt.Errorf("%w: %s", ErrContextBlocked, attempt.Error)
	}

	if attempt.Kind == resilience.KindPermanent {
		env := resilience.Fallback(req.AgentID, taskExcerpt(req.Task), attempt, c.gate.Redact)
		result.Fallback = &env
		c.logger.Warn("delegate failed permanently, returning fallback",
			zap.String("agent_id", req.AgentID),
			zap.String("error", attempt.Error),
			zap.Int("attempts", attempt.Attempts))
	}

	c.count(ctx, string(attempt.Kind))
	span.SetAttributes(attribute.String("status", string(attempt.Kind)))
	return result, nil
}

// fallbackExcerptLimit bounds the task prefix handed to the fallback
// envelope builder.
const fallbackExcerptLimit = 100

// taskExcerpt cuts the task to the excerpt limit, never splitting a
// rune.
func taskExcerpt(task string) string {
	if len(task) <= fallbackExcerptLimit {
		return task
	}
	runes := []rune(task)
	if len(runes) <= fallbackExcerptLimit {
		return task
	}
	return string(runes[:fallbackExcerptLimit])
}

// estimateUsage is the recorded token cost: len/4, floored at the
// configured minimum.
func (c *Coordinator) estimateUsage(payload string) int64 {
	tokens := int64(len(payload) / 4)
	if tokens < c.config.MinRecordTokens {
		tokens = c.config.MinRecordTokens
	}
	return tokens
}

func (c *Coordinator) count(ctx context.Context, status string) {
	if c.calls == nil {
		return
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
