package resilience

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/delegated/internal/resilience"

// Policy configures retry behavior for delegate attempts.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 2
	MaxRetries int

	// BaseDelay is the first backoff delay.
	// Default: 2 seconds
	BaseDelay time.Duration

	// MaxDelay is the backoff ceiling.
	// Default: 30 seconds
	MaxDelay time.Duration

	// TimeoutMultiplier grows the timeout scale after each timeout
	// failure. Default: 1.5
	TimeoutMultiplier float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        2,
		BaseDelay:         2 * time.Second,
		MaxDelay:          30 * time.Second,
		TimeoutMultiplier: 1.5,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	defaults := DefaultPolicy()

	if p.MaxRetries == 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.TimeoutMultiplier == 0 {
		p.TimeoutMultiplier = defaults.TimeoutMultiplier
	}
}

// AttemptResult is the outcome of one delegate attempt, annotated by the
// retry loop with the classification and attempt count.
type AttemptResult struct {
	// Success marks the attempt as having produced a usable payload.
	Success bool `json:"success"`

	// Payload is the delegate's output on success.
	Payload string `json:"payload,omitempty"`

	// Error describes the failure. Used for classification unless Kind
	// is already set.
	Error string `json:"error,omitempty"`

	// Kind is the failure classification. An attempt may pre-classify
	// itself (gate rejections arrive marked KindBlocked); otherwise the
	// retry loop fills it in from Error and Returncode.
	Kind FailureKind `json:"failure_kind,omitempty"`

	// Returncode is the delegate process exit code, when one exists.
	Returncode int `json:"returncode,omitempty"`

	// Attempts is the number of attempts made, set by the retry loop.
	Attempts int `json:"attempts,omitempty"`
}

// AttemptFunc performs one delegate attempt. timeoutScale starts at 1.0
// and grows after each timeout failure; implementations multiply their
// base deadline by it.
type AttemptFunc func(timeoutScale float64) AttemptResult

// Retryer drives delegate attempts under a Policy.
type Retryer struct {
	policy Policy
	logger *zap.Logger

	tracer   trace.Tracer
	meter    metric.Meter
	attempts metric.Int64Counter
}

// NewRetryer creates a Retryer. Zero-valued policy fields take defaults;
// a nil logger is replaced with a no-op.
func NewRetryer(policy Policy, logger *zap.Logger) *Retryer {
	policy.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Retryer{
		policy: policy,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	r.attempts, err = r.meter.Int64Counter(
		"delegated.retry.attempts_total",
		metric.WithDescription("Delegate attempts by failure kind"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		r.logger.Warn("failed to create attempts counter", zap.Error(err))
	}

	return r
}

// Retry invokes fn up to 1+MaxRetries times with exponential backoff.
// Success returns immediately; permanent and gate-blocked failures stop
// the loop; rate limits stretch the backoff; timeouts grow the timeout
// scale for the next attempt. The returned result always carries the
// attempt count; exhausted retries return the last failure, never a
// silent drop.
func (r *Retryer) Retry(ctx context.Context, fn AttemptFunc) AttemptResult {
	ctx, span := r.tracer.Start(ctx, "resilience.retry")
	defer span.End()

	timeoutScale := 1.0
	start := time.Now()

	var result AttemptResult
	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		result = fn(timeoutScale)
		result.Attempts = attempt

		if result.Success {
			if attempt > 1 {
				r.logger.Info("delegate call recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)))
			}
			r.count(ctx, "success")
			span.SetAttributes(attribute.Int("attempts", attempt))
			return result
		}

		if result.Kind == "" {
			result.Kind = Classify(result.Error, result.Returncode)
		}
		r.count(ctx, string(result.Kind))

		if !result.Kind.Retryable() {
			r.logger.Info("failure is not retryable",
				zap.String("kind", string(result.Kind)),
				zap.String("error", result.Error))
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.String("kind", string(result.Kind)))
			return result
		}

		if attempt == r.policy.MaxRetries+1 {
			break
		}

		delay := r.backoff(attempt, result.Kind)
		if result.Kind == KindTimeout {
			timeoutScale *= r.policy.TimeoutMultiplier
		}

		r.logger.Info("retrying delegate call",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxRetries+1),
			zap.String("kind", string(result.Kind)),
			zap.Duration("backoff", delay))

		select {
		case <-ctx.Done():
			result.Error = fmt.Sprintf("retry canceled: %v (last failure: %s)", ctx.Err(), result.Error)
			result.Kind = KindPermanent
			span.SetAttributes(attribute.Int("attempts", attempt))
			return result
		case <-time.After(delay):
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", result.Attempts),
		zap.String("kind", string(result.Kind)),
		zap.String("error", result.Error))
	span.SetAttributes(
		attribute.Int("attempts", result.Attempts),
		attribute.String("kind", string(result.Kind)))
	return result
}

// backoff computes the sleep before the next attempt: exponential from
// BaseDelay, capped at MaxDelay, tripled (still capped) for rate limits.
func (r *Retryer) backoff(attempt int, kind FailureKind) time.Duration {
	delay := r.policy.BaseDelay << (attempt - 1)
	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}
	if kind == KindRateLimit {
		delay *= 3
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return delay
}

func (r *Retryer) count(ctx context.Context, kind string) {
	if r.attempts == nil {
		return
	}
	r.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
