package anthropicapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

type fakeMessages struct {
	params    []anthropic.MessageNewParams
	responses []*anthropic.Message
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, params)
	i := len(f.params) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

type fakeDispatcher struct {
	calls [][]models.ToolCall
}

func (f *fakeDispatcher) ExecuteBatch(ctx context.Context, callCtx models.CallContext, calls []models.ToolCall) ([]string, error) {
	f.calls = append(f.calls, calls)
	out := make([]string, len(calls))
	for i := range calls {
		out[i] = "memory hit"
	}
	return out, nil
}

func (f *fakeDispatcher) Declarations(disableMemorySearch bool, vectorStoreIDs []string) []adapters.ToolDeclaration {
	return []adapters.ToolDeclaration{{
		Name:       "search_project_memory",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}}
}

func anthropicBlueprint() models.Blueprint {
	return models.Blueprint{
		ToolName:               "chat_with_claude_opus",
		Model:                  "claude-opus-4-5",
		Adapter:                models.AdapterAnthropic,
		ContextWindow:          200000,
		SupportsThinkingBudget: true,
	}
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: anthropic.StopReasonEndTurn,
	}
}

func toolUseMessage() *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{
			Type:  "tool_use",
			ID:    "tu_1",
			Name:  "search_project_memory",
			Input: json.RawMessage(`{"query":"x"}`),
		}},
		StopReason: anthropic.StopReasonToolUse,
	}
}

func TestSimpleGenerate(t *testing.T) {
	messages := &fakeMessages{responses: []*anthropic.Message{textMessage("hello")}}
	adapter := newWithMessages(messages, &fakeDispatcher{}, anthropicBlueprint(), config.ProvidersConfig{MaxOutputTokens: 1000}, nil)

	session := models.NewSession(models.SessionKey{Project: "p", Tool: "t", SessionID: "s1"})
	result, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Session:         session,
		Prompt:          "hi",
		Messages:        []models.Turn{{Kind: models.TurnUser, Text: "hi"}},
		SessionID:       "s1",
		ReasoningEffort: models.EffortHigh,
	})
	require.NoError(t, err)
	require.Equal(t, "hello", result.Content)
	require.Len(t, session.History, 2)

	params := messages.params[0]
	require.Equal(t, anthropic.Model("claude-opus-4-5"), params.Model)
	require.Equal(t, int64(1000), params.MaxTokens)
	require.NotNil(t, params.Thinking.OfEnabled)
	require.Equal(t, int64(63999), params.Thinking.OfEnabled.BudgetTokens)
	require.Len(t, params.Tools, 1)
}

func TestToolUseRound(t *testing.T) {
	messages := &fakeMessages{responses: []*anthropic.Message{
		toolUseMessage(),
		textMessage("final answer"),
	}}
	dispatcher := &fakeDispatcher{}
	adapter := newWithMessages(messages, dispatcher, anthropicBlueprint(), config.ProvidersConfig{MaxFunctionCalls: 500}, nil)

	session := models.NewSession(models.SessionKey{Project: "p", Tool: "t", SessionID: "s2"})
	result, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Session:   session,
		Prompt:    "look it up",
		Messages:  []models.Turn{{Kind: models.TurnUser, Text: "look it up"}},
		SessionID: "s2",
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", result.Content)
	require.Len(t, dispatcher.calls, 1)

	// The second call appends the assistant tool_use message and a user
	// tool_result message.
	second := messages.params[1]
	require.Len(t, second.Messages, 3)

	// Session order: user, assistant tool-call, tool result, assistant.
	require.Len(t, session.History, 4)
	require.Equal(t, models.TurnToolResult, session.History[2].Kind)
	require.Equal(t, "memory hit", session.History[2].Text)
}

func TestMaxTokensStopSignalsRetry(t *testing.T) {
	messages := &fakeMessages{responses: []*anthropic.Message{{
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: "truncat"}},
		StopReason: anthropic.StopReasonMaxTokens,
	}}}
	adapter := newWithMessages(messages, &fakeDispatcher{}, anthropicBlueprint(), config.ProvidersConfig{}, nil)

	session := models.NewSession(models.SessionKey{Project: "p", Tool: "t", SessionID: "s3"})
	_, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Session:   session,
		Prompt:    "big",
		Messages:  []models.Turn{{Kind: models.TurnUser, Text: "big"}},
		SessionID: "s3",
	})
	retry, ok := adapters.AsRetryWithReducedContext(err)
	require.True(t, ok)
	require.Equal(t, adapters.RetryReasonMaxOutputTokens, retry.Reason)
	require.Empty(t, session.History)
}

func TestToolUseRoundCap(t *testing.T) {
	messages := &fakeMessages{responses: []*anthropic.Message{toolUseMessage()}}
	adapter := newWithMessages(messages, &fakeDispatcher{}, anthropicBlueprint(), config.ProvidersConfig{MaxFunctionCalls: 2}, nil)

	result, err := adapter.Generate(context.Background(), models.GenerateRequest{
		Prompt:    "loop",
		Messages:  []models.Turn{{Kind: models.TurnUser, Text: "loop"}},
		SessionID: "s4",
	})
	require.NoError(t, err)
	require.Equal(t, TooManyFunctionCalls, result.Content)
	require.Len(t, messages.params, 3)
}

func TestTurnsToMessagesRoundShape(t *testing.T) {
	out := TurnsToMessages([]models.Turn{
		{Kind: models.TurnUser, Text: "q"},
		{Kind: models.TurnAssistant, ToolCalls: []models.ToolCall{{ID: "a", Name: "f", Arguments: `{"k":"v"}`}}},
		{Kind: models.TurnToolResult, ToolCallID: "a", ToolName: "f", Text: "r"},
		{Kind: models.TurnAssistant, Text: "done"},
	})
	require.Len(t, out, 4)
	require.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	require.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	require.Equal(t, anthropic.MessageParamRoleAssistant, out[3].Role)
}
