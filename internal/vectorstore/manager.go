package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// StoreInfo is what GetOrCreate returns: the chosen backend's provider tag
// and the allocated store id, both of which the Executor persists into the
// session's provider metadata.
type StoreInfo struct {
	StoreID  string
	Provider string
}

// Manager implements VectorStoreManager: it allocates a store per
// session, remembers it across turns via a lease table, and falls back
// from the preferred remote provider to the local provider on failure.
type Manager struct {
	db       *sessionstore.SQLiteDB
	remote   *Client
	local    *Client
	ttl      time.Duration
	rollover int
}

// NewManager wires a Manager over the shared SQLiteDB lease table (so
// lease writes serialize through the same single-writer lock sessions do)
// and the remote/local clients.
func NewManager(db *sessionstore.SQLiteDB, remote, local *Client, ttl time.Duration, rolloverLimit int) *Manager {
	if rolloverLimit <= 0 {
		rolloverLimit = 9500
	}
	return &Manager{db: db, remote: remote, local: local, ttl: ttl, rollover: rolloverLimit}
}

// GetOrCreate returns the existing lease for sessionID if one is active,
// otherwise allocates a new store: tries remote first, falls back to
// local on failure. If the caller's context is cancelled after a store was
// freshly created but before GetOrCreate returns, the freshly created
// store is deleted before the cancellation is re-raised.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string, preferRemote bool) (StoreInfo, error) {
	if info, ok, err := m.activeLease(ctx, sessionID); err != nil {
		return StoreInfo{}, err
	} else if ok {
		return info, nil
	}

	client := m.local
	if preferRemote && m.remote != nil {
		client = m.remote
	}

	storeID, err := client.Create(ctx, "session-"+sessionID)
	if err != nil && client == m.remote && m.local != nil {
		client = m.local
		storeID, err = client.Create(ctx, "session-"+sessionID)
	}
	if err != nil {
		return StoreInfo{}, fmt.Errorf("vectorstore: create store: %w", err)
	}

	if ctx.Err() != nil {
		_ = client.Delete(context.Background(), storeID)
		return StoreInfo{}, ctx.Err()
	}

	info := StoreInfo{StoreID: storeID, Provider: client.Name()}
	if err := m.saveLease(ctx, sessionID, info); err != nil {
		_ = client.Delete(context.Background(), storeID)
		return StoreInfo{}, err
	}
	return info, nil
}

// AddFiles uploads files, skipping any path already present.
// alreadyPresent is
// typically the store's tracked FilePaths from session metadata.
func (m *Manager) AddFiles(ctx context.Context, info StoreInfo, files []models.VectorStoreFile, alreadyPresent map[string]bool) (uploaded, skipped []string, err error) {
	client := m.clientFor(info.Provider)
	if client == nil {
		return nil, nil, fmt.Errorf("vectorstore: unknown provider %q", info.Provider)
	}

	var toUpload []models.VectorStoreFile
	for _, f := range files {
		if alreadyPresent[f.Path] {
			skipped = append(skipped, f.Path)
			continue
		}
		toUpload = append(toUpload, f)
	}
	if len(toUpload) == 0 {
		return nil, skipped, nil
	}

	result, err := client.Upload(ctx, info.StoreID, toUpload)
	if err != nil {
		return nil, skipped, err
	}
	skipped = append(skipped, result.SkippedPaths...)

	failed := make(map[string]bool, len(result.FailedFiles))
	for _, p := range result.FailedFiles {
		failed[p] = true
	}
	for _, f := range toUpload {
		if !failed[f.Path] {
			uploaded = append(uploaded, f.Path)
		}
	}

	if err := m.renewLeaseNow(ctx, info.StoreID); err != nil {
		return uploaded, skipped, err
	}
	return uploaded, skipped, nil
}

// RenewLease bumps the store's updated_at, extending its TTL.
func (m *Manager) RenewLease(ctx context.Context, sessionID string) error {
	info, ok, err := m.activeLease(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return m.renewLeaseNow(ctx, info.StoreID)
}

// ShouldRollover reports whether a store holding fileCount files has
// crossed the configured rollover threshold.
func (m *Manager) ShouldRollover(fileCount int) bool {
	return fileCount > m.rollover
}

// Rollover retires the old store (marks it inactive; does not delete —
// rollover, not deletion, is how a local backend frees space) and
// allocates a fresh one seeded with summary as file #1.
func (m *Manager) Rollover(ctx context.Context, sessionID string, summary string) (StoreInfo, error) {
	if err := m.deactivateLease(ctx, sessionID); err != nil {
		return StoreInfo{}, err
	}
	info, err := m.GetOrCreate(ctx, sessionID, m.remote != nil)
	if err != nil {
		return StoreInfo{}, err
	}
	client := m.clientFor(info.Provider)
	_, err = client.Upload(ctx, info.StoreID, []models.VectorStoreFile{
		{Path: "summary.md", Content: []byte(summary)},
	})
	return info, err
}

func (m *Manager) clientFor(provider string) *Client {
	if m.remote != nil && provider == m.remote.Name() {
		return m.remote
	}
	if m.local != nil && provider == m.local.Name() {
		return m.local
	}
	return nil
}

func (m *Manager) activeLease(ctx context.Context, sessionID string) (StoreInfo, bool, error) {
	row := m.db.DB().QueryRowContext(ctx,
		`SELECT store_id, provider, updated_at FROM vector_store_leases
		 WHERE session_id = ? AND active = 1 ORDER BY updated_at DESC LIMIT 1`, sessionID)
	var storeID, provider string
	var updatedAt int64
	if err := row.Scan(&storeID, &provider, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return StoreInfo{}, false, nil
		}
		return StoreInfo{}, false, err
	}
	if m.ttl > 0 && time.Now().Unix()-updatedAt > int64(m.ttl.Seconds()) {
		return StoreInfo{}, false, nil
	}
	return StoreInfo{StoreID: storeID, Provider: provider}, true, nil
}

func (m *Manager) saveLease(ctx context.Context, sessionID string, info StoreInfo) error {
	return m.db.WithWriter(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO vector_store_leases (store_id, session_id, provider, updated_at, active)
			 VALUES (?, ?, ?, ?, 1)`,
			info.StoreID, sessionID, info.Provider, time.Now().Unix())
		return err
	})
}

func (m *Manager) renewLeaseNow(ctx context.Context, storeID string) error {
	return m.db.WithWriter(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE vector_store_leases SET updated_at = ? WHERE store_id = ?`,
			time.Now().Unix(), storeID)
		return err
	})
}

func (m *Manager) deactivateLease(ctx context.Context, sessionID string) error {
	return m.db.WithWriter(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE vector_store_leases SET active = 0 WHERE session_id = ? AND active = 1`, sessionID)
		return err
	})
}
