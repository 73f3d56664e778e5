// Package audit provides the append-only JSONL audit trail for gate
// decisions and notable ledger/lifecycle events.
//
// Writes are best-effort: a failing trail never blocks the caller. Records
// carry rule IDs and counts, never secret material.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names recorded by the gate and lifecycle.
const (
	EventInvalidPolicy        = "invalid_policy"
	EventNoProjectDir         = "no_project_dir"
	EventBlockedUnknownOrigin = "blocked_unknown_origin"
	EventBlockedStrictOrigin  = "blocked_strict_origin"
	EventUnknownOrigin        = "unknown_origin"
	EventBlockedDirectory     = "blocked_directory"
	EventBlockedFiles         = "blocked_files"
	EventSecretsFound         = "secrets_found"
	EventContentTruncated     = "content_truncated"
)

// maxDetailLen caps the free-form details field per record.
const maxDetailLen = 500

// Record is one audit trail entry.
type Record struct {
	Timestamp time.Time `json:"ts"`
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Findings  int       `json:"findings,omitempty"`
	Rules     []string  `json:"rules,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Trail appends records to a line-delimited JSON file.
type Trail interface {
	// Log appends a record. Failures are swallowed after a debug log.
	Log(rec Record)
}

// trail is the file-backed implementation.
type trail struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// New creates a file-backed Trail at path. The parent directory is created
// on first write, not here, so construction never fails.
func New(path string, logger *zap.Logger) Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &trail{path: path, logger: logger}
}

// Log appends a record to the trail. Best-effort on every step.
func (t *trail) Log(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if len(rec.Details) > maxDetailLen {
		rec.Details = rec.Details[:maxDetailLen]
	}

	line, err := json.Marshal(rec)
	if err != nil {
		t.logger.Debug("audit record marshal failed", zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		t.logger.Debug("audit dir create failed", zap.Error(err))
		return
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.logger.Debug("audit open failed", zap.Error(err))
		return
	}
	defer f.Close()

	_, _ = f.Write(append(line, '\n'))
}

// NopTrail discards all records. Used when auditing is disabled.
type NopTrail struct{}

// Log discards the record.
func (NopTrail) Log(Record) {}

var (
	_ Trail = (*trail)(nil)
	_ Trail = NopTrail{}
)
