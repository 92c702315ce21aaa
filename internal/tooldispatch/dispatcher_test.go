package tooldispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func echoHandler(ctx context.Context, call models.CallContext, args map[string]any) (string, error) {
	q, _ := args["query"].(string)
	return "echo:" + q, nil
}

func decl(name string) adapters.ToolDeclaration {
	return adapters.ToolDeclaration{
		Name:       name,
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func TestExecuteBatchPreservesCallOrder(t *testing.T) {
	d := NewDispatcher(4, nil)
	d.Register(decl("echo"), echoHandler)

	calls := []models.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{"query":"a"}`},
		{ID: "2", Name: "echo", Arguments: `{"query":"b"}`},
		{ID: "3", Name: "echo", Arguments: `{"query":"c"}`},
	}
	results, err := d.ExecuteBatch(context.Background(), models.CallContext{}, calls)
	require.NoError(t, err)
	require.Equal(t, []string{"echo:a", "echo:b", "echo:c"}, results)
}

func TestHandlerErrorBecomesErrorString(t *testing.T) {
	d := NewDispatcher(4, nil)
	d.Register(decl("boom"), func(ctx context.Context, call models.CallContext, args map[string]any) (string, error) {
		return "", fmt.Errorf("kaboom")
	})
	d.Register(decl("echo"), echoHandler)

	results, err := d.ExecuteBatch(context.Background(), models.CallContext{}, []models.ToolCall{
		{ID: "1", Name: "boom", Arguments: `{}`},
		{ID: "2", Name: "echo", Arguments: `{"query":"ok"}`},
	})
	require.NoError(t, err, "a handler failure must never abort the batch")
	require.Contains(t, results[0], "Error executing boom")
	require.Contains(t, results[0], "kaboom")
	require.Equal(t, "echo:ok", results[1])
}

func TestUnknownToolBecomesErrorString(t *testing.T) {
	d := NewDispatcher(4, nil)
	results, err := d.ExecuteBatch(context.Background(), models.CallContext{}, []models.ToolCall{
		{ID: "1", Name: "nope", Arguments: `{}`},
	})
	require.NoError(t, err)
	require.Contains(t, results[0], `unknown tool "nope"`)
}

func TestMalformedArgumentsBecomeErrorString(t *testing.T) {
	d := NewDispatcher(4, nil)
	d.Register(decl("echo"), echoHandler)
	results, err := d.ExecuteBatch(context.Background(), models.CallContext{}, []models.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{not json`},
	})
	require.NoError(t, err)
	require.Contains(t, results[0], "malformed arguments")
}

func TestConcurrencyBoundIsEnforced(t *testing.T) {
	const bound = 2
	d := NewDispatcher(bound, nil)

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	d.Register(decl("slow"), func(ctx context.Context, call models.CallContext, args map[string]any) (string, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "done", nil
	})

	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprint(i), Name: "slow", Arguments: `{}`}
	}
	_, err := d.ExecuteBatch(context.Background(), models.CallContext{}, calls)
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int64(bound))
}

func TestDeclarationsFiltering(t *testing.T) {
	d := NewDispatcher(4, nil)
	RegisterBuiltins(d, nil, nil)

	names := func(decls []adapters.ToolDeclaration) map[string]bool {
		out := map[string]bool{}
		for _, decl := range decls {
			out[decl.Name] = true
		}
		return out
	}

	all := names(d.Declarations(false, []string{"vs_1"}))
	require.True(t, all[ToolSearchProjectMemory])
	require.True(t, all[ToolSearchTaskFiles])

	noMemory := names(d.Declarations(true, []string{"vs_1"}))
	require.False(t, noMemory[ToolSearchProjectMemory])
	require.True(t, noMemory[ToolSearchTaskFiles])

	noStores := names(d.Declarations(false, nil))
	require.True(t, noStores[ToolSearchProjectMemory])
	require.False(t, noStores[ToolSearchTaskFiles], "search_task_files is declared only when stores are present")
}
