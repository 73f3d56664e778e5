package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize ledger watcher")

// Watcher emits an event whenever the ledger file changes. It drives the
// CLI's live budget view; it is not part of the mutual-exclusion story.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan time.Time
	stop    chan struct{}
}

// NewWatcher creates a watcher for the ledger file at path. The parent
// directory is watched, not the file, so truncate-rewrites and lazy
// creation are both observed.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving ledger path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		path:    abs,
		watcher: fsw,
		events:  make(chan time.Time, 10),
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching. Events are delivered on the Events channel until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching ledger directory: %w", err)
	}

	go w.run(ctx)
	return nil
}

// Events returns the change notification channel.
func (w *Watcher) Events() <-chan time.Time {
	return w.events
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		// Already stopped.
	default:
		close(w.stop)
	}
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			// Drop rather than block when the consumer lags.
			select {
			case w.events <- time.Now():
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
