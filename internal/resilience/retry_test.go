package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		TimeoutMultiplier: 1.5,
	}
}

func TestPolicyApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		policy := Policy{}
		policy.ApplyDefaults()

		assert.Equal(t, 2, policy.MaxRetries)
		assert.Equal(t, 2*time.Second, policy.BaseDelay)
		assert.Equal(t, 30*time.Second, policy.MaxDelay)
		assert.Equal(t, 1.5, policy.TimeoutMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		policy := Policy{
			MaxRetries:        5,
			BaseDelay:         time.Second,
			MaxDelay:          time.Minute,
			TimeoutMultiplier: 2.0,
		}
		policy.ApplyDefaults()

		assert.Equal(t, 5, policy.MaxRetries)
		assert.Equal(t, time.Second, policy.BaseDelay)
		assert.Equal(t, time.Minute, policy.MaxDelay)
		assert.Equal(t, 2.0, policy.TimeoutMultiplier)
	})
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)

	calls := 0
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		calls++
		assert.Equal(t, 1.0, scale)
		return AttemptResult{Success: true, Payload: "done"}
	})

	require.True(t, result.Success)
	assert.Equal(t, "done", result.Payload)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)

	calls := 0
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		calls++
		if calls < 3 {
			return AttemptResult{Error: "connection reset by peer"}
		}
		return AttemptResult{Success: true, Payload: "done"}
	})

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)

	calls := 0
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		calls++
		return AttemptResult{Error: "codex: command not found", Returncode: 127}
	})

	require.False(t, result.Success)
	assert.Equal(t, 1, calls, "permanent failures are never retried")
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, KindPermanent, result.Kind)
}

func TestRetryRespectsPreclassifiedKind(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)

	calls := 0
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		calls++
		// The message alone would classify transient; the attempt says
		// otherwise and the loop must believe it.
		return AttemptResult{Error: "context_blocked: provenance missing", Kind: KindBlocked}
	})

	require.False(t, result.Success)
	assert.Equal(t, 1, calls, "blocked failures are never retried")
	assert.Equal(t, KindBlocked, result.Kind)
}

func TestRetryRateLimitExhaustsWithTripledBackoff(t *testing.T) {
	base := 20 * time.Millisecond
	r := NewRetryer(Policy{
		MaxRetries:        2,
		BaseDelay:         base,
		MaxDelay:          time.Second,
		TimeoutMultiplier: 1.5,
	}, nil)

	calls := 0
	start := time.Now()
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		calls++
		return AttemptResult{Error: "rate limit exceeded"}
	})
	elapsed := time.Since(start)

	require.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindRateLimit, result.Kind)
	// Sleeps are tripled: 3*base + 3*2*base = 9*base minimum.
	assert.GreaterOrEqual(t, elapsed, 9*base)
}

func TestRetryTimeoutGrowsScale(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)

	var scales []float64
	result := r.Retry(context.Background(), func(scale float64) AttemptResult {
		scales = append(scales, scale)
		return AttemptResult{Error: "timeout waiting for delegate"}
	})

	require.False(t, result.Success)
	assert.Equal(t, KindTimeout, result.Kind)
	require.Len(t, scales, 3)
	assert.Equal(t, 1.0, scales[0])
	assert.InDelta(t, 1.5, scales[1], 1e-9)
	assert.InDelta(t, 2.25, scales[2], 1e-9)
}

func TestRetryBackoffCappedAtMaxDelay(t *testing.T) {
	r := NewRetryer(Policy{
		MaxRetries:        4,
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		TimeoutMultiplier: 1.5,
	}, nil)

	assert.Equal(t, time.Millisecond, r.backoff(1, KindTransient))
	assert.Equal(t, 2*time.Millisecond, r.backoff(2, KindTransient))
	assert.Equal(t, 2*time.Millisecond, r.backoff(10, KindTransient))
	assert.Equal(t, 2*time.Millisecond, r.backoff(1, KindRateLimit))
}

func TestRetryContextCanceledDuringBackoff(t *testing.T) {
	r := NewRetryer(Policy{
		MaxRetries:        2,
		BaseDelay:         time.Hour,
		MaxDelay:          time.Hour,
		TimeoutMultiplier: 1.5,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	start := time.Now()
	result := r.Retry(ctx, func(scale float64) AttemptResult {
		calls++
		return AttemptResult{Error: "connection reset"}
	})

	require.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Contains(t, result.Error, "retry canceled")
	assert.Less(t, time.Since(start), time.Minute, "cancel must abort the backoff sleep")
}
