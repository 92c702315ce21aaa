package tooldispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func TestSessionMemorySearch(t *testing.T) {
	db, err := sessionstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sessionstore.New(db, sessionstore.Options{TTL: time.Hour, CleanupProbability: 0})
	ctx := context.Background()

	for _, row := range []struct{ id, summary string }{
		{"s-retry", "discussed the retry policy and backoff schedule"},
		{"s-auth", "walked through the login flow"},
	} {
		key := models.SessionKey{Project: "proj", Tool: "chat_with_test", SessionID: row.id}
		session := models.NewSession(key)
		session.History = []models.Turn{{Kind: models.TurnAssistant, Text: "ok"}}
		require.NoError(t, store.Save(ctx, session))
		require.NoError(t, store.SetSummary(ctx, key, row.summary))
	}

	searcher := NewSessionMemorySearcher(store)
	hits, err := searcher.SearchMemory(ctx, "proj", "retry policy", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].Source, "s-retry")
	require.Contains(t, hits[0].Snippet, "retry policy")

	hits, err = searcher.SearchMemory(ctx, "proj", "", 10, nil)
	require.NoError(t, err)
	require.Empty(t, hits)
}
