package cliagents

import (
	"context"

	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// SessionBridge maps the unified session id the host sees onto each CLI's
// native session/thread id, persisted in the session's provider metadata
//. The first turn of a session has no bridge entry and runs
// BuildNewSessionArgs; later turns resume.
type SessionBridge struct {
	cache *sessioncache.Cache
}

// NewSessionBridge wraps the shared session cache.
func NewSessionBridge(cache *sessioncache.Cache) *SessionBridge {
	return &SessionBridge{cache: cache}
}

// GetCLISessionID returns the native id for (project, unified id, CLI), or
// "" when this is the session's first turn for that CLI.
func (b *SessionBridge) GetCLISessionID(ctx context.Context, key models.SessionKey, cliName string) (string, error) {
	session, err := b.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return "", err
	}
	return sessioncache.CLISessionID(session, cliName), nil
}

// StoreCLISessionID records the native id a CLI reported, preserving any
// other metadata already on the session.
func (b *SessionBridge) StoreCLISessionID(ctx context.Context, key models.SessionKey, cliName, cliID string) error {
	session, err := b.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return err
	}
	sessioncache.SetCLISessionID(session, cliName, cliID)
	return b.cache.Save(ctx, session)
}
