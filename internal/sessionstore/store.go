// Package sessionstore provides the durable transcript cache keyed by
// (project, tool, session_id), backed by SQLite via the pure-Go
// modernc.org/sqlite driver (no cgo dependency).
package sessionstore

import (
	"context"
	"regexp"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Store is the interface every caller (Executor, CLI SessionBridge,
// describe_session) depends on.
type Store interface {
	Load(ctx context.Context, key models.SessionKey) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	SetSummary(ctx context.Context, key models.SessionKey, text string) error
	GetSummary(ctx context.Context, key models.SessionKey) (string, bool, error)
	DeleteSession(ctx context.Context, key models.SessionKey) error
	ListByProject(ctx context.Context, project string, opts ListOptions) ([]ListedSession, error)
	RunReaper(ctx context.Context) (int64, error)
	Close() error
}

// ListOptions configures ListByProject.
type ListOptions struct {
	// Search, when non-empty, is matched as a case-insensitive substring
	// against tool name or session id (supplemented feature #1).
	Search         string
	Limit          int
	IncludeSummary bool
}

// ListedSession is one row returned by ListByProject, ordered by
// UpdatedAt DESC.
type ListedSession struct {
	Tool      string
	SessionID string
	UpdatedAt int64
	Summary   string // only populated when IncludeSummary was requested
}

// sessionIDPattern bounds session ids to a safe alphabet and length:
// letters, digits, '.', '_', '-', at most 128 characters.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateSessionID rejects session ids outside the bounded alphabet or
// length before any database operation runs.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return &InvalidSessionIDError{SessionID: id}
	}
	return nil
}

// InvalidSessionIDError reports a session id that failed validation.
type InvalidSessionIDError struct {
	SessionID string
}

func (e *InvalidSessionIDError) Error() string {
	return "sessionstore: invalid session id: " + e.SessionID
}
