package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_tokens INTEGER NOT NULL DEFAULT 0,
	active_calls INTEGER NOT NULL DEFAULT 0,
	budget_limit INTEGER NOT NULL,
	max_concurrent INTEGER NOT NULL
);
`

const createCallsTable = `
CREATE TABLE IF NOT EXISTS ledger_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent TEXT NOT NULL,
	tokens INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_calls_agent ON ledger_calls(agent);
`

// SQLiteStore keeps the ledger in an embedded SQLite database. WithLock
// runs its critical section inside BEGIN IMMEDIATE, which takes the
// database write lock up front and so satisfies the same cross-process
// exclusion contract as the file backend. Useful where advisory file
// locks are unreliable, e.g. some network mounts.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// auto-migration.
func NewSQLiteStore(path string, limits Limits) (*SQLiteStore, error) {
	if limits.BudgetLimit == 0 || limits.MaxConcurrent == 0 {
		def := DefaultLimits()
		if limits.BudgetLimit == 0 {
			limits.BudgetLimit = def.BudgetLimit
		}
		if limits.MaxConcurrent == 0 {
			limits.MaxConcurrent = def.MaxConcurrent
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	// _txlock=immediate takes the database write lock at BEGIN, so
	// concurrent mutators serialize up front instead of failing at commit.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}

	if _, err := db.Exec(createStateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger state table: %w", err)
	}
	if _, err := db.Exec(createCallsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger calls table: %w", err)
	}

	return &SQLiteStore{db: db, limits: limits}, nil
}

// WithLock implements Store.
func (s *SQLiteStore) WithLock(ctx context.Context, fn func(*State) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := loadTx(ctx, tx, s.limits)
	if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		return err
	}

	if err := saveTx(ctx, tx, state); err != nil {
		return err
	}

	return tx.Commit()
}

// View implements Store.
func (s *SQLiteStore) View(ctx context.Context, fn func(State) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger read: %w", err)
	}
	defer tx.Rollback()

	state, err := loadTx(ctx, tx, s.limits)
	if err != nil {
		return err
	}

	return fn(*state)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// loadTx reads state and call log inside tx, lazily seeding the single
// state row.
func loadTx(ctx context.Context, tx *sql.Tx, limits Limits) (*State, error) {
	state := &State{Calls: []CallRecord{}}

	row := tx.QueryRowContext(ctx,
		"SELECT total_tokens, active_calls, budget_limit, max_concurrent FROM ledger_state WHERE id = 1")
	err := row.Scan(&state.TotalTokens, &state.ActiveCalls, &state.BudgetLimit, &state.MaxConcurrent)
	if err == sql.ErrNoRows {
		state.BudgetLimit = limits.BudgetLimit
		state.MaxConcurrent = limits.MaxConcurrent
	} else if err != nil {
		return nil, fmt.Errorf("loading ledger state: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT agent, tokens, duration_ms, created_at FROM ledger_calls ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading ledger calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec CallRecord
		var ts time.Time
		if err := rows.Scan(&rec.Agent, &rec.Tokens, &rec.DurationMS, &ts); err != nil {
			return nil, fmt.Errorf("scanning ledger call: %w", err)
		}
		rec.Timestamp = ts
		state.Calls = append(state.Calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger calls: %w", err)
	}

	state.normalize(limits)
	return state, nil
}

// saveTx persists fn's final state inside tx. The call log is rewritten
// wholesale; session logs are small and the simplicity keeps the Store
// contract identical across backends.
func saveTx(ctx context.Context, tx *sql.Tx, state *State) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO ledger_state (id, total_tokens, active_calls, budget_limit, max_concurrent)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	total_tokens = excluded.total_tokens,
	active_calls = excluded.active_calls,
	budget_limit = excluded.budget_limit,
	max_concurrent = excluded.max_concurrent`,
		state.TotalTokens, state.ActiveCalls, state.BudgetLimit, state.MaxConcurrent)
	if err != nil {
		return fmt.Errorf("saving ledger state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_calls"); err != nil {
		return fmt.Errorf("clearing ledger calls: %w", err)
	}
	for _, rec := range state.Calls {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO ledger_calls (agent, tokens, duration_ms, created_at) VALUES (?, ?, ?, ?)",
			rec.Agent, rec.Tokens, rec.DurationMS, rec.Timestamp)
		if err != nil {
			return fmt.Errorf("saving ledger call: %w", err)
		}
	}

	return nil
}

var _ Store = (*SQLiteStore)(nil)
