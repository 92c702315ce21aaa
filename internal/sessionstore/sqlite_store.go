package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// SQLiteStore implements Store on top of a SQLiteDB.
type SQLiteStore struct {
	db                 *SQLiteDB
	ttl                time.Duration
	cleanupProbability float64
	now                func() time.Time
}

// Options configures a SQLiteStore.
type Options struct {
	TTL                time.Duration
	CleanupProbability float64
}

// New constructs a SQLiteStore over an already-opened SQLiteDB so callers
// (e.g. the vector-store lease table) may share the same connection and
// writer lock.
func New(db *SQLiteDB, opts Options) *SQLiteStore {
	if opts.CleanupProbability <= 0 {
		opts.CleanupProbability = 0.01
	}
	if opts.TTL <= 0 {
		opts.TTL = 15552000 * time.Second
	}
	return &SQLiteStore{db: db, ttl: opts.TTL, cleanupProbability: opts.CleanupProbability, now: time.Now}
}

func (s *SQLiteStore) Load(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	if err := ValidateSessionID(key.SessionID); err != nil {
		return nil, err
	}
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT updated_at, history_json, metadata_json FROM unified_sessions
		 WHERE project = ? AND tool = ? AND session_id = ?`,
		key.Project, key.Tool, key.SessionID)

	var updatedAt int64
	var historyJSON, metadataJSON string
	if err := row.Scan(&updatedAt, &historyJSON, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &TransientStorageError{Op: "load", Cause: err}
	}

	if s.ttl > 0 && s.now().Unix()-updatedAt > int64(s.ttl.Seconds()) {
		return nil, nil
	}

	session := &models.Session{Key: key, UpdatedAt: time.Unix(updatedAt, 0)}
	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return nil, &TransientStorageError{Op: "decode_history", Cause: err}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &session.ProviderMetadata); err != nil {
		return nil, &TransientStorageError{Op: "decode_metadata", Cause: err}
	}
	return session, nil
}

// Save writes session with REPLACE semantics keyed by (project, tool,
// session_id), stamping updated_at = now. It then
// rolls the probabilistic-reaper die under the same writer acquisition so
// the sweep and the write never interleave with another writer.
func (s *SQLiteStore) Save(ctx context.Context, session *models.Session) error {
	if err := ValidateSessionID(session.Key.SessionID); err != nil {
		return err
	}
	historyJSON, err := json.Marshal(session.History)
	if err != nil {
		return fmt.Errorf("sessionstore: encode history: %w", err)
	}
	metadataJSON, err := json.Marshal(session.ProviderMetadata)
	if err != nil {
		return fmt.Errorf("sessionstore: encode metadata: %w", err)
	}
	now := s.now()

	return s.db.WithWriter(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO unified_sessions (project, tool, session_id, updated_at, history_json, metadata_json)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (project, tool, session_id) DO UPDATE SET
			   updated_at = excluded.updated_at,
			   history_json = excluded.history_json,
			   metadata_json = excluded.metadata_json`,
			session.Key.Project, session.Key.Tool, session.Key.SessionID,
			now.Unix(), string(historyJSON), string(metadataJSON))
		if err != nil {
			return &TransientStorageError{Op: "save", Cause: err}
		}
		session.UpdatedAt = now

		if rand.Float64() < s.cleanupProbability { // #nosec G404 -- sampling cadence, not security sensitive
			if _, rerr := runReaper(ctx, db, s.ttl, now); rerr != nil {
				return &TransientStorageError{Op: "reap", Cause: rerr}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SetSummary(ctx context.Context, key models.SessionKey, text string) error {
	if err := ValidateSessionID(key.SessionID); err != nil {
		return err
	}
	return s.db.WithWriter(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO session_summaries (project, tool, session_id, summary)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (project, tool, session_id) DO UPDATE SET summary = excluded.summary`,
			key.Project, key.Tool, key.SessionID, text)
		if err != nil {
			return &TransientStorageError{Op: "set_summary", Cause: err}
		}
		return nil
	})
}

func (s *SQLiteStore) GetSummary(ctx context.Context, key models.SessionKey) (string, bool, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT summary FROM session_summaries WHERE project = ? AND tool = ? AND session_id = ?`,
		key.Project, key.Tool, key.SessionID)
	var summary string
	if err := row.Scan(&summary); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, &TransientStorageError{Op: "get_summary", Cause: err}
	}
	return summary, true, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, key models.SessionKey) error {
	return s.db.WithWriter(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			`DELETE FROM unified_sessions WHERE project = ? AND tool = ? AND session_id = ?`,
			key.Project, key.Tool, key.SessionID); err != nil {
			return &TransientStorageError{Op: "delete", Cause: err}
		}
		if _, err := db.ExecContext(ctx,
			`DELETE FROM session_summaries WHERE project = ? AND tool = ? AND session_id = ?`,
			key.Project, key.Tool, key.SessionID); err != nil {
			return &TransientStorageError{Op: "delete_summary", Cause: err}
		}
		return nil
	})
}

// ListByProject returns sessions ordered by updated_at DESC, optionally
// filtered by a case-insensitive substring match over tool name or
// session id.
func (s *SQLiteStore) ListByProject(ctx context.Context, project string, opts ListOptions) ([]ListedSession, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT tool, session_id, updated_at FROM unified_sessions
		 WHERE project = ? ORDER BY updated_at DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, &TransientStorageError{Op: "list", Cause: err}
	}
	defer rows.Close()

	search := strings.ToLower(opts.Search)
	var out []ListedSession
	for rows.Next() {
		var ls ListedSession
		if err := rows.Scan(&ls.Tool, &ls.SessionID, &ls.UpdatedAt); err != nil {
			return nil, &TransientStorageError{Op: "list_scan", Cause: err}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ls.Tool), search) &&
			!strings.Contains(strings.ToLower(ls.SessionID), search) {
			continue
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The pool holds one connection; release it before the summary lookups.
	rows.Close()
	if opts.IncludeSummary {
		for i := range out {
			summary, _, err := s.GetSummary(ctx, models.SessionKey{Project: project, Tool: out[i].Tool, SessionID: out[i].SessionID})
			if err != nil {
				return nil, err
			}
			out[i].Summary = summary
		}
	}
	return out, nil
}

func (s *SQLiteStore) RunReaper(ctx context.Context) (int64, error) {
	var removed int64
	err := s.db.WithWriter(ctx, func(db *sql.DB) error {
		n, err := runReaper(ctx, db, s.ttl, s.now())
		removed = n
		return err
	})
	return removed, err
}

func runReaper(ctx context.Context, db *sql.DB, ttl time.Duration, now time.Time) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-ttl).Unix()
	res, err := db.ExecContext(ctx, `DELETE FROM unified_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// TransientStorageError surfaces a per-call database failure to the
// caller, distinct from a fatal open-time failure.
type TransientStorageError struct {
	Op    string
	Cause error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("sessionstore: transient storage error during %s: %v", e.Op, e.Cause)
}

func (e *TransientStorageError) Unwrap() error { return e.Cause }
