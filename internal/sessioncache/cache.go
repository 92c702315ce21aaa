// Package sessioncache wraps the SessionStore with the per-provider
// serialization each adapter needs: typed accessors over the opaque
// provider_metadata map (previous_response_id for OpenAI, native CLI
// session ids, vector-store bindings) and history append helpers that keep
// the session-monotonicity invariant observable at one choke point.
package sessioncache

import (
	"context"
	"fmt"

	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Metadata keys shared across adapters. CLI session ids are stored under
// "cli_session_id:<cli name>" so several CLIs can coexist on one unified
// session.
const (
	MetaPreviousResponseID = "previous_response_id"
	MetaVectorStoreID      = "vector_store_id"
	MetaVectorStoreProv    = "vector_store_provider"
	MetaVectorStoreFiles   = "vector_store_files"
	metaCLISessionPrefix   = "cli_session_id:"
)

// Cache is the adapter-facing session layer. All methods validate the
// session id through the store (which enforces the bounded alphabet) and
// operate on a loaded-or-fresh Session value.
type Cache struct {
	store sessionstore.Store
}

// New wraps store.
func New(store sessionstore.Store) *Cache {
	return &Cache{store: store}
}

// Store exposes the underlying store for callers that need list/summary
// operations directly (local services).
func (c *Cache) Store() sessionstore.Store { return c.store }

// LoadOrCreate returns the stored session for key, or a fresh empty one
// when none exists (sessions are created lazily on first turn).
func (c *Cache) LoadOrCreate(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	session, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = models.NewSession(key)
	}
	return session, nil
}

// Save persists session with REPLACE semantics.
func (c *Cache) Save(ctx context.Context, session *models.Session) error {
	return c.store.Save(ctx, session)
}

// PreviousResponseID returns the OpenAI continuation id, if one was stored
// by a prior turn. A fresh session must never report one.
func PreviousResponseID(s *models.Session) string {
	return metaString(s, MetaPreviousResponseID)
}

// SetPreviousResponseID records the server-side continuation id the next
// turn should send instead of the full history.
func SetPreviousResponseID(s *models.Session, id string) {
	s.ProviderMetadata[MetaPreviousResponseID] = id
}

// CLISessionID returns the native session/thread id a CLI reported on a
// prior turn, keyed by CLI name.
func CLISessionID(s *models.Session, cliName string) string {
	return metaString(s, metaCLISessionPrefix+cliName)
}

// SetCLISessionID stores a CLI's native session id under its CLI name. The
// unified session_id stays the only identifier exposed to the host.
func SetCLISessionID(s *models.Session, cliName, cliID string) {
	s.ProviderMetadata[metaCLISessionPrefix+cliName] = cliID
}

// VectorStoreBinding returns the store id/provider pair the Executor bound
// to this session, if any.
func VectorStoreBinding(s *models.Session) (storeID, provider string) {
	return metaString(s, MetaVectorStoreID), metaString(s, MetaVectorStoreProv)
}

// SetVectorStoreBinding records the allocated store for later turns.
func SetVectorStoreBinding(s *models.Session, storeID, provider string) {
	s.ProviderMetadata[MetaVectorStoreID] = storeID
	s.ProviderMetadata[MetaVectorStoreProv] = provider
}

// VectorStoreFiles returns the set of file paths already uploaded to the
// session's store, used for the AddFiles dedup contract.
func VectorStoreFiles(s *models.Session) map[string]bool {
	out := map[string]bool{}
	raw, ok := s.ProviderMetadata[MetaVectorStoreFiles]
	if !ok {
		return out
	}
	switch v := raw.(type) {
	case []string:
		for _, p := range v {
			out[p] = true
		}
	case []any: // JSON round-trip decodes string slices as []any
		for _, e := range v {
			if p, ok := e.(string); ok {
				out[p] = true
			}
		}
	}
	return out
}

// AddVectorStoreFiles merges newly uploaded paths into the tracked set.
func AddVectorStoreFiles(s *models.Session, paths []string) {
	present := VectorStoreFiles(s)
	for _, p := range paths {
		present[p] = true
	}
	merged := make([]string, 0, len(present))
	for p := range present {
		merged = append(merged, p)
	}
	s.ProviderMetadata[MetaVectorStoreFiles] = merged
}

// AppendExchange appends the turns produced by one generate call and checks
// the invariant that a successful exchange terminates in an assistant turn
// with nonempty content: a history must never end dangling on an
// unanswered tool call.
func AppendExchange(s *models.Session, turns ...models.Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("sessioncache: empty exchange")
	}
	last := turns[len(turns)-1]
	if last.Kind != models.TurnAssistant || last.Text == "" {
		return fmt.Errorf("sessioncache: exchange must end in a nonempty assistant turn, got kind=%s", last.Kind)
	}
	s.History = append(s.History, turns...)
	return nil
}

func metaString(s *models.Session, key string) string {
	if s == nil || s.ProviderMetadata == nil {
		return ""
	}
	if v, ok := s.ProviderMetadata[key].(string); ok {
		return v
	}
	return ""
}
