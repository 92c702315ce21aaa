package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/blueprint"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func newServicesExecutor(t *testing.T, adapter *fakeAdapter) (*Executor, *sessioncache.Cache) {
	t.Helper()
	db, err := sessionstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sessionstore.New(db, sessionstore.Options{TTL: time.Hour, CleanupProbability: 0})
	cache := sessioncache.New(store)

	registry := blueprint.NewRegistry([]models.Blueprint{
		{ToolName: "chat_with_test", Model: "m", Adapter: models.AdapterOpenAI, Timeout: time.Minute, ContextWindow: 100000},
		{ToolName: SummarizerTool, Model: "small", Adapter: models.AdapterOpenAI, Timeout: time.Minute, ContextWindow: 100000},
	})
	e := New(registry, &fakeResolver{adapter: adapter}, cache, &recordingOptimizer{}, &fakeBinder{}, testSettings(), nil)
	return e, cache
}

func TestListSessionsAndSearch(t *testing.T) {
	adapter := &fakeAdapter{outcomes: []func(models.GenerateRequest) (models.GenerateResult, error){ok("x")}}
	e, cache := newServicesExecutor(t, adapter)
	ctx := context.Background()

	for _, id := range []string{"alpha-session", "retry-work"} {
		session := models.NewSession(models.SessionKey{Project: "default", Tool: "chat_with_test", SessionID: id})
		session.History = []models.Turn{{Kind: models.TurnAssistant, Text: "ok"}}
		require.NoError(t, cache.Save(ctx, session))
	}

	all, err := e.ListSessions(ctx, "", "", 10, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	filtered, err := e.ListSessions(ctx, "default", "retry", 10, false)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "retry-work", filtered[0].SessionID)
}

func TestDescribeSessionSummarizesAndCaches(t *testing.T) {
	adapter := &fakeAdapter{outcomes: []func(models.GenerateRequest) (models.GenerateResult, error){ok("talked about retries")}}
	e, cache := newServicesExecutor(t, adapter)
	ctx := context.Background()

	key := models.SessionKey{Project: "default", Tool: "chat_with_test", SessionID: "s-described"}
	session := models.NewSession(key)
	session.History = []models.Turn{
		{Kind: models.TurnUser, Text: "how do retries work"},
		{Kind: models.TurnAssistant, Text: "exponentially"},
	}
	require.NoError(t, cache.Save(ctx, session))

	summary, err := e.DescribeSession(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "talked about retries", summary)
	require.Len(t, adapter.requests, 1, "the summarizer model ran through the Executor")
	require.Contains(t, adapter.requests[0].Prompt, "how do retries work")

	// Second call hits the summary cache; no new provider work.
	summary, err = e.DescribeSession(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "talked about retries", summary)
	require.Len(t, adapter.requests, 1)
}

func TestWhiteboardLifecycle(t *testing.T) {
	adapter := &fakeAdapter{outcomes: []func(models.GenerateRequest) (models.GenerateResult, error){ok("x")}}
	e, _ := newServicesExecutor(t, adapter)
	ctx := context.Background()
	wb := e.NewWhiteboard()
	key := models.SessionKey{Project: "default", Tool: "work_with", SessionID: "wb1"}

	text, err := wb.Get(ctx, key)
	require.NoError(t, err)
	require.Empty(t, text)

	require.NoError(t, wb.Set(ctx, key, "plan: step 1"))
	require.NoError(t, wb.Append(ctx, key, "step 2"))

	text, err = wb.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "plan: step 1\nstep 2", text)
}
