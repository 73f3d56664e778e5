package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/delegated/internal/logging"
)

func newFileService(t *testing.T, limits Limits) Service {
	t.Helper()
	store := NewFileStore(tempLedgerPath(t), limits)
	svc, err := NewService(store, limits, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestCheckBudgetBoundary(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, Limits{BudgetLimit: 10000, MaxConcurrent: 1})

	tests := []struct {
		name      string
		recorded  int64
		estimated int64
		allowed   bool
	}{
		{"plenty remaining", 0, 5000, true},
		{"exact boundary is inclusive", 5000, 5000, true},
		{"one over", 5001, 5000, false},
		{"exhausted", 10000, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, svc.ResetSession(ctx))
			if tt.recorded > 0 {
				svc.RecordCall(ctx, "codex", tt.recorded, time.Second)
			}

			status := svc.CheckBudget(ctx, tt.estimated)
			assert.Equal(t, tt.allowed, status.Allowed)
			assert.False(t, status.Degraded)
			assert.Equal(t, int64(10000)-tt.recorded, status.Remaining)
		})
	}
}

func TestCheckBudgetBlockedByConcurrency(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, Limits{BudgetLimit: 10000, MaxConcurrent: 1})

	require.True(t, svc.AcquireSlot(ctx, "codex"))
	status := svc.CheckBudget(ctx, 1)
	assert.False(t, status.Allowed, "active_calls at max must disallow")
	assert.Equal(t, 1, status.ActiveCalls)

	svc.ReleaseSlot(ctx)
	assert.True(t, svc.CheckBudget(ctx, 1).Allowed)
}

func TestAcquireSlotSequence(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, Limits{BudgetLimit: 500000, MaxConcurrent: 2})

	assert.True(t, svc.AcquireSlot(ctx, "codex"))
	assert.True(t, svc.AcquireSlot(ctx, "gemini"))
	assert.False(t, svc.AcquireSlot(ctx, "qwen"))

	svc.ReleaseSlot(ctx)
	assert.True(t, svc.AcquireSlot(ctx, "qwen"))
}

func TestReleaseSlotFlooredAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(tempLedgerPath(t), DefaultLimits())
	svc, err := NewService(store, DefaultLimits(), nil)
	require.NoError(t, err)
	defer svc.Close()

	svc.ReleaseSlot(ctx)
	svc.ReleaseSlot(ctx)

	require.NoError(t, store.View(ctx, func(state State) error {
		assert.Equal(t, 0, state.ActiveCalls)
		return nil
	}))
}

func TestResetSessionZeroesSummary(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, Limits{BudgetLimit: 500000, MaxConcurrent: 1})

	svc.RecordCall(ctx, "codex", 12000, 3*time.Second)
	svc.RecordCall(ctx, "gemini", 8000, time.Second)
	require.True(t, svc.AcquireSlot(ctx, "codex"))

	require.NoError(t, svc.ResetSession(ctx))

	summary := svc.Summary(ctx)
	assert.Zero(t, summary.TotalTokens)
	assert.Zero(t, summary.TotalCalls)
	assert.Equal(t, int64(500000), summary.RemainingTokens)
	assert.Empty(t, summary.ByAgent)
	assert.False(t, summary.Degraded)
}

func TestSummaryByAgent(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, DefaultLimits())

	svc.RecordCall(ctx, "codex", 1000, time.Second)
	svc.RecordCall(ctx, "codex", 2000, time.Second)
	svc.RecordCall(ctx, "gemini", 500, time.Second)

	summary := svc.Summary(ctx)
	assert.Equal(t, int64(3500), summary.TotalTokens)
	assert.Equal(t, 3, summary.TotalCalls)
	assert.Equal(t, AgentUsage{Calls: 2, Tokens: 3000}, summary.ByAgent["codex"])
	assert.Equal(t, AgentUsage{Calls: 1, Tokens: 500}, summary.ByAgent["gemini"])
}

func TestTotalTokensMonotonic(t *testing.T) {
	ctx := context.Background()
	svc := newFileService(t, DefaultLimits())

	var last int64
	for i := 0; i < 5; i++ {
		svc.RecordCall(ctx, "codex", 100, time.Millisecond)
		total := svc.Summary(ctx).TotalTokens
		assert.GreaterOrEqual(t, total, last)
		last = total
	}
	assert.Equal(t, int64(500), last)
}

// brokenStore fails every operation, exercising the degraded paths.
type brokenStore struct{ err error }

func (b *brokenStore) WithLock(context.Context, func(*State) error) error { return b.err }
func (b *brokenStore) View(context.Context, func(State) error) error      { return b.err }
func (b *brokenStore) Close() error                                       { return nil }

func TestFailureAsymmetry(t *testing.T) {
	ctx := context.Background()
	testLogger := logging.NewTestLogger()
	svc, err := NewService(&brokenStore{err: assert.AnError}, DefaultLimits(), testLogger.Underlying())
	require.NoError(t, err)

	t.Run("check budget fails open with degraded flag", func(t *testing.T) {
		status := svc.CheckBudget(ctx, 10000)
		assert.True(t, status.Allowed)
		assert.True(t, status.Degraded)
	})

	t.Run("acquire slot fails closed", func(t *testing.T) {
		assert.False(t, svc.AcquireSlot(ctx, "codex"))
	})

	t.Run("release and record swallow errors", func(t *testing.T) {
		assert.NotPanics(t, func() {
			svc.ReleaseSlot(ctx)
			svc.RecordCall(ctx, "codex", 1000, time.Second)
		})
	})

	t.Run("summary fails open with degraded flag", func(t *testing.T) {
		summary := svc.Summary(ctx)
		assert.True(t, summary.Degraded)
		assert.Zero(t, summary.TotalTokens)
	})

	t.Run("reset propagates the error", func(t *testing.T) {
		assert.Error(t, svc.ResetSession(ctx))
	})

	t.Run("degradation is logged at WARN", func(t *testing.T) {
		testLogger.AssertLogged(t, zapcore.WarnLevel, "ledger degraded")
	})
}

// TestAcquireSlotLinearizable races many acquirers, each with an
// independent store handle on the same backing file, simulating sibling
// processes. active_calls must never exceed max_concurrent and must never
// go negative.
func TestAcquireSlotLinearizable(t *testing.T) {
	const (
		maxConcurrent = 3
		workers       = 8
		iterations    = 15
	)

	path := filepath.Join(t.TempDir(), "ledger.json")
	limits := Limits{BudgetLimit: 500000, MaxConcurrent: maxConcurrent}
	ctx := context.Background()

	var held atomic.Int32
	var peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Independent handle per worker: no shared in-process state
			// besides the backing file, as with separate processes.
			store := NewFileStore(path, limits)
			defer store.Close()
			svc, err := NewService(store, limits, nil)
			if err != nil {
				t.Error(err)
				return
			}

			for j := 0; j < iterations; j++ {
				if !svc.AcquireSlot(ctx, "agent") {
					continue
				}
				n := held.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				held.Add(-1)
				svc.ReleaseSlot(ctx)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent),
		"two acquirers racing for the last slot must not both succeed")

	store := NewFileStore(path, limits)
	defer store.Close()
	require.NoError(t, store.View(ctx, func(state State) error {
		assert.Equal(t, 0, state.ActiveCalls)
		return nil
	}))
}

func TestWatcherObservesLedgerWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()
	require.NoError(t, watcher.Start(ctx))

	store := NewFileStore(path, DefaultLimits())
	defer store.Close()
	require.NoError(t, store.WithLock(ctx, func(state *State) error {
		state.TotalTokens = 1
		return nil
	}))

	select {
	case <-watcher.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no watcher event after ledger write")
	}
}
