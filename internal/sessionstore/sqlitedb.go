package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// SQLiteDB owns the single connection pool this core's persisted state
// lives in, with single-writer serialization: no task holds the database
// writer for longer than one statement. The
// writer slot is a buffered channel of size 1 used as a context-aware
// mutex so a caller blocked waiting for it still respects cancellation,
// rather than a sync.Mutex which cannot be acquired with a context.
type SQLiteDB struct {
	db     *sql.DB
	writer chan struct{}
}

// Open opens (or creates) the sqlite file at path and ensures every table
// this core owns exists, via idempotent CREATE TABLE IF NOT EXISTS
// statements (schema migrations are always additive and re-runnable).
func Open(path string) (*SQLiteDB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", path, err)
	}
	// A single physical writer is enforced at the application level via
	// the writer channel below; cap the pool so the driver never hands
	// out a second concurrent writer connection underneath us.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, writer: make(chan struct{}, 1)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDB) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unified_sessions (
			project TEXT NOT NULL,
			tool TEXT NOT NULL,
			session_id TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			history_json TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			PRIMARY KEY (project, tool, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			project TEXT NOT NULL,
			tool TEXT NOT NULL,
			session_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			PRIMARY KEY (project, tool, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS vector_store_leases (
			store_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			active INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unified_sessions_project ON unified_sessions(project, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_store_leases_session ON vector_store_leases(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying pool for read-only (SELECT) access. The pool
// holds a single connection, so queries run one at a time and an open
// result set blocks every other query until it is closed.
func (s *SQLiteDB) DB() *sql.DB { return s.db }

// WithWriter serializes fn against every other writer across this
// SQLiteDB, including callers from other packages sharing the same
// instance (e.g. vectorstore's lease table). fn receives the acquired
// *sql.DB so it may run one or more statements, but should do so quickly —
// holding the writer slot across a network call or long computation
// violates the "one statement" budget.
func (s *SQLiteDB) WithWriter(ctx context.Context, fn func(*sql.DB) error) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()
	return fn(s.db)
}

// Close releases the underlying connection pool.
func (s *SQLiteDB) Close() error { return s.db.Close() }
