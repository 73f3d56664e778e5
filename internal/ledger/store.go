package ledger

import "context"

// Store is the durable ledger store contract: at most one mutator executes
// its critical section at a time across all processes sharing the backing
// resource.
//
// WithLock loads the current state under the cross-process exclusive lock,
// runs fn against it, and persists fn's final state before releasing the
// lock. If fn returns an error, nothing is persisted and the error is
// returned. Lock release is unconditional on every exit path.
//
// View runs fn against a read-only snapshot under the same lock.
type Store interface {
	WithLock(ctx context.Context, fn func(*State) error) error
	View(ctx context.Context, fn func(State) error) error
	Close() error
}
