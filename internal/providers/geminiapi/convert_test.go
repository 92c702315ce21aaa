package geminiapi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func TestTurnsToContentsShapes(t *testing.T) {
	turns := []models.Turn{
		{Kind: models.TurnUser, Text: "find it"},
		{Kind: models.TurnAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "search_project_memory", Arguments: `{"query":"x"}`}}},
		{Kind: models.TurnToolResult, ToolCallID: "c1", ToolName: "search_project_memory", Text: "HIT"},
		{Kind: models.TurnAssistant, Text: "done"},
	}
	contents := TurnsToContents(turns)
	require.Len(t, contents, 4)

	require.Equal(t, genai.RoleUser, contents[0].Role)
	require.Equal(t, "find it", contents[0].Parts[0].Text)

	require.Equal(t, genai.RoleModel, contents[1].Role)
	call := contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	require.Equal(t, "search_project_memory", call.Name)
	require.Equal(t, map[string]any{"query": "x"}, call.Args)

	require.Equal(t, genai.RoleUser, contents[2].Role)
	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	require.Equal(t, "search_project_memory", fr.Name)
	require.Equal(t, map[string]any{"result": "HIT"}, fr.Response)

	require.Equal(t, genai.RoleModel, contents[3].Role)
	require.Equal(t, "done", contents[3].Parts[0].Text)
}

func TestContentRoundTripPreservesCallsAndText(t *testing.T) {
	content := &genai.Content{
		Role: genai.RoleModel,
		Parts: []*genai.Part{
			{Text: "working on it"},
			{FunctionCall: &genai.FunctionCall{ID: "c9", Name: "search_task_files", Args: map[string]any{"query": "foo"}}},
		},
	}
	turns := ContentToTurns(content)
	require.Len(t, turns, 1)
	require.Equal(t, "working on it", turns[0].Text)
	require.Len(t, turns[0].ToolCalls, 1)
	require.Equal(t, "search_task_files", turns[0].ToolCalls[0].Name)
	require.JSONEq(t, `{"query":"foo"}`, turns[0].ToolCalls[0].Arguments)

	back := TurnsToContents(turns)
	require.Len(t, back, 1)
	require.Equal(t, genai.RoleModel, back[0].Role)
	require.Equal(t, "working on it", back[0].Parts[0].Text)
	require.Equal(t, map[string]any{"query": "foo"}, back[0].Parts[1].FunctionCall.Args)
}

func TestSchemaRoundTripCanonicalizesType(t *testing.T) {
	in := map[string]any{
		"type":        "object",
		"description": "a thing",
		"required":    []any{"name"},
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "enum": []any{"a", "b"}},
			"items": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "minItems": float64(1), "maxItems": float64(5)},
		},
	}
	schema := SchemaFromMap(in)
	out := SchemaToMap(schema)

	// The round trip preserves every field, with type canonicalized to
	// uppercase.
	require.Equal(t, "OBJECT", out["type"])
	require.Equal(t, "a thing", out["description"])
	require.Equal(t, []any{"name"}, out["required"])

	props := out["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	require.Equal(t, "STRING", name["type"])
	require.Equal(t, []any{"a", "b"}, name["enum"])

	arr := props["items"].(map[string]any)
	require.Equal(t, "ARRAY", arr["type"])
	require.Equal(t, "INTEGER", arr["items"].(map[string]any)["type"])
	require.Equal(t, float64(1), arr["minItems"])
	require.Equal(t, float64(5), arr["maxItems"])

	// Idempotence of the canonicalized form.
	require.Equal(t, out, SchemaToMap(SchemaFromMap(out)))
}

func TestThinkingBudgetMapping(t *testing.T) {
	budget, ok := ThinkingBudget("gemini-2.5-pro", models.EffortLow)
	require.True(t, ok)
	require.Equal(t, int32(4096), budget)

	budget, ok = ThinkingBudget("gemini-2.5-flash", models.EffortHigh)
	require.True(t, ok)
	require.Equal(t, int32(24576), budget)

	// Unknown effort falls back to the model's medium entry.
	budget, ok = ThinkingBudget("gemini-2.5-pro", "")
	require.True(t, ok)
	require.Equal(t, int32(16384), budget)

	_, ok = ThinkingBudget("unknown-model", models.EffortLow)
	require.False(t, ok)
}
