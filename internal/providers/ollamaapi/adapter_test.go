package ollamaapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func newFakeOllama(t *testing.T, onChat func(body map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{{
					"name": "llama3.3:latest",
					"details": map[string]any{
						"parameter_size":     "8B",
						"quantization_level": "Q4_K_M",
					},
				}},
			})
		case "/api/show":
			json.NewEncoder(w).Encode(map[string]any{
				"model_info": map[string]any{"llama.context_length": float64(131072)},
			})
		case "/api/chat":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			json.NewEncoder(w).Encode(onChat(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ollamaBlueprint() models.Blueprint {
	return models.Blueprint{
		ToolName:      "chat_with_local_model",
		Model:         "llama3.3",
		Adapter:       models.AdapterOllama,
		ContextWindow: 131072,
	}
}

func plentyOfMemory() (int64, error) { return 512 << 30, nil }

func TestDiscoveryAndNumCtx(t *testing.T) {
	var chatBody map[string]any
	srv := newFakeOllama(t, func(body map[string]any) map[string]any {
		chatBody = body
		return map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "hello"},
			"done":              true,
			"prompt_eval_count": 4,
			"eval_count":        2,
		}
	})

	catalog := NewCatalog(srv.URL, 0)
	catalog.availableMemoryBytes = plentyOfMemory
	require.NoError(t, catalog.Refresh(context.Background()))

	adapter := New(srv.URL, catalog, ollamaBlueprint(), config.ProvidersConfig{}, nil)
	session := models.NewSession(models.SessionKey{Project: "p", Tool: "t", SessionID: "s1"})
	result, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Session:   session,
		Prompt:    "hi",
		Messages:  []models.Turn{{Kind: models.TurnUser, Text: "hi"}},
		SessionID: "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "hello", result.Content)
	require.Equal(t, models.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, result.Usage)

	options := chatBody["options"].(map[string]any)
	require.Equal(t, float64(131072), options["num_ctx"], "num_ctx always comes from the resolved capability")
	require.Equal(t, false, chatBody["stream"])

	require.Len(t, session.History, 2)
}

func TestBareModelNameResolvesLatestTag(t *testing.T) {
	srv := newFakeOllama(t, nil)
	catalog := NewCatalog(srv.URL, 0)
	catalog.availableMemoryBytes = plentyOfMemory
	require.NoError(t, catalog.Refresh(context.Background()))

	info, ok := catalog.Resolve(context.Background(), "llama3.3")
	require.True(t, ok)
	require.Equal(t, 131072, info.ContextLength)
}

func TestStructuredOutputSchemaRejected(t *testing.T) {
	srv := newFakeOllama(t, nil)
	catalog := NewCatalog(srv.URL, 0)
	catalog.availableMemoryBytes = plentyOfMemory
	require.NoError(t, catalog.Refresh(context.Background()))

	adapter := New(srv.URL, catalog, ollamaBlueprint(), config.ProvidersConfig{}, nil)
	_, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Prompt:                 "x",
		SessionID:              "s2",
		StructuredOutputSchema: map[string]any{"type": "object"},
	})
	var adapterErr *adapters.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, adapters.CategoryInvalidModel, adapterErr.Category)
}

func TestMemoryClampReducesContext(t *testing.T) {
	catalog := NewCatalog("http://unused", 0)
	// 16 GiB available against an 8B Q4 model: weights ~4.9 GiB, leaving
	// roughly 7.9 GiB of margin-adjusted KV budget — far less than the
	// advertised 131072-token window can consume.
	catalog.availableMemoryBytes = func() (int64, error) { return 16 << 30, nil }

	clamped := catalog.clampContext(ModelInfo{
		Name:           "llama3.3:latest",
		ContextLength:  131072,
		ParameterCount: 8,
		Quantization:   "Q4_K_M",
	})
	require.Less(t, clamped, 131072)
	require.GreaterOrEqual(t, clamped, 2048)
}

func TestMemoryClampKeepsSmallModels(t *testing.T) {
	catalog := NewCatalog("http://unused", 0)
	catalog.availableMemoryBytes = func() (int64, error) { return 512 << 30, nil }

	clamped := catalog.clampContext(ModelInfo{
		ContextLength:  8192,
		ParameterCount: 1,
		Quantization:   "Q4_0",
	})
	require.Equal(t, 8192, clamped)
}

func TestFlattenTurnsDropsToolBookkeeping(t *testing.T) {
	messages := flattenTurns([]models.Turn{
		{Kind: models.TurnUser, Text: "q"},
		{Kind: models.TurnAssistant, ToolCalls: []models.ToolCall{{ID: "x", Name: "f"}}},
		{Kind: models.TurnAssistant, Text: "a"},
	})
	require.Len(t, messages, 2)
	require.Equal(t, "user", messages[0].Role)
	require.Equal(t, "assistant", messages[1].Role)
}

func TestParseParameterCount(t *testing.T) {
	require.Equal(t, 8.0, parseParameterCount("8B"))
	require.Equal(t, 70.6, parseParameterCount("70.6B"))
	require.InDelta(t, 0.5, parseParameterCount("500M"), 0.001)
	require.Equal(t, 0.0, parseParameterCount(""))
}
