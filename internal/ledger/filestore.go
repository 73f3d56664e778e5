package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is the poll interval while waiting for the advisory lock.
const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps the ledger in a JSON file guarded by an exclusive OS
// advisory lock spanning the full open-read-mutate-write sequence.
//
// Writes truncate and rewrite in place: renaming a fresh file over the old
// one would swap the inode out from under concurrently-blocked lock
// waiters and break mutual exclusion. A crash mid-write is covered by the
// corrupt-state self-heal on the next load.
type FileStore struct {
	path   string
	limits Limits
	lock   *flock.Flock
}

// NewFileStore creates a store backed by the JSON file at path. The file
// and its parent directory are created lazily on first access.
func NewFileStore(path string, limits Limits) *FileStore {
	if limits.BudgetLimit == 0 || limits.MaxConcurrent == 0 {
		def := DefaultLimits()
		if limits.BudgetLimit == 0 {
			limits.BudgetLimit = def.BudgetLimit
		}
		if limits.MaxConcurrent == 0 {
			limits.MaxConcurrent = def.MaxConcurrent
		}
	}
	return &FileStore{
		path:   path,
		limits: limits,
		lock:   flock.New(path + ".lock"),
	}
}

// WithLock implements Store.
func (f *FileStore) WithLock(ctx context.Context, fn func(*State) error) error {
	unlock, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := f.load()
	if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		return err
	}

	return f.save(state)
}

// View implements Store.
func (f *FileStore) View(ctx context.Context, fn func(State) error) error {
	unlock, err := f.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := f.load()
	if err != nil {
		return err
	}

	return fn(*state)
}

// Close implements Store.
func (f *FileStore) Close() error {
	return f.lock.Close()
}

// acquire blocks until the exclusive advisory lock is held, polling so a
// cancelled context aborts the wait. The returned func releases the lock
// and must run on every exit path.
func (f *FileStore) acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring ledger lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring ledger lock: not acquired")
	}

	return func() { _ = f.lock.Unlock() }, nil
}

// load reads the backing file. Missing, empty, or unparseable state is
// treated as a fresh session and self-heals on the next save.
func (f *FileStore) load() (*State, error) {
	state := &State{}

	data, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		// Lazy creation: first access starts from the empty state.
	case err != nil:
		return nil, fmt.Errorf("reading ledger file: %w", err)
	default:
		if jsonErr := json.Unmarshal(data, state); jsonErr != nil {
			*state = State{}
		}
	}

	state.normalize(f.limits)
	return state, nil
}

// save rewrites the backing file in place.
func (f *FileStore) save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger state: %w", err)
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening ledger file: %w", err)
	}
	defer fh.Close()

	if err := fh.Truncate(0); err != nil {
		return fmt.Errorf("truncating ledger file: %w", err)
	}
	if _, err := fh.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing ledger file: %w", err)
	}

	return fh.Sync()
}

var _ Store = (*FileStore)(nil)
