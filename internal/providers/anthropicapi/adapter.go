// Package anthropicapi implements the direct Anthropic Messages-API
// adapter, distinct from the Claude CLI agent: one blocking Messages call per
// round (responses are not streamed), tool_use/tool_result rounds through the
// shared dispatcher,
// and thinking budgets mapped from the abstract reasoning-effort levels.
package anthropicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

const contextSafetyBuffer = 4096

// TooManyFunctionCalls is returned as terminal content at the round cap.
const TooManyFunctionCalls = "TooManyFunctionCalls"

// thinkingBudgets maps reasoning effort to thinking.budget_tokens — the
// same table the Claude CLI plugin exports through MAX_THINKING_TOKENS,
// applied here as an API parameter instead of an env var.
var thinkingBudgets = map[models.ReasoningEffort]int64{
	models.EffortLow:    16000,
	models.EffortMedium: 31999,
	models.EffortHigh:   63999,
	models.EffortXHigh:  127999,
}

// messagesAPI is the SDK boundary, swappable in tests.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Adapter implements the ProviderAdapter contract over the Messages API.
type Adapter struct {
	messages   messagesAPI
	dispatcher adapters.Dispatcher
	blueprint  models.Blueprint
	cfg        config.ProvidersConfig
	logger     *slog.Logger
}

// New builds an adapter bound to an API key.
func New(apiKey string, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newWithMessages(&client.Messages, dispatcher, bp, cfg, logger)
}

func newWithMessages(messages messagesAPI, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{messages: messages, dispatcher: dispatcher, blueprint: bp, cfg: cfg, logger: logger}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	ctx, span := observability.StartProviderSpan(ctx, a.Name(), a.blueprint.Model)
	defer span.End()

	if err := a.guardContextWindow(req); err != nil {
		return models.GenerateResult{}, err
	}

	params, err := a.buildParams(req)
	if err != nil {
		return models.GenerateResult{}, err
	}
	callCtx := models.CallContext{
		SessionID:      req.SessionID,
		Project:        req.Project,
		ToolName:       req.ToolName,
		VectorStoreIDs: req.VectorStoreIDs,
	}

	exchange := []models.Turn{{Kind: models.TurnUser, Text: req.Prompt}}
	maxRounds := a.cfg.MaxFunctionCalls
	if maxRounds <= 0 {
		maxRounds = 500
	}

	var usage models.Usage
	for round := 0; ; round++ {
		msg, err := a.messages.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return models.GenerateResult{}, ctx.Err()
			}
			return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), err).
				WithModel(a.blueprint.Model)
		}
		usage = models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		}

		if msg.StopReason == anthropic.StopReasonMaxTokens {
			return models.GenerateResult{}, &adapters.RetryWithReducedContext{Reason: adapters.RetryReasonMaxOutputTokens}
		}

		text, toolUses := splitContent(msg)
		if len(toolUses) == 0 {
			if text == "" {
				return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
					WithModel(a.blueprint.Model).WithMessage("response contained no text")
			}
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: text})
			return a.finish(req, text, usage, exchange)
		}

		if round >= maxRounds {
			a.logger.Warn("tool-use round cap reached",
				"model", a.blueprint.Model, "session_id", req.SessionID, "rounds", round)
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: TooManyFunctionCalls})
			return a.finish(req, TooManyFunctionCalls, usage, exchange)
		}

		toolCalls := make([]models.ToolCall, len(toolUses))
		for i, tu := range toolUses {
			toolCalls[i] = models.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: string(tu.Input)}
		}
		outputs, err := a.dispatcher.ExecuteBatch(ctx, callCtx, toolCalls)
		if err != nil {
			return models.GenerateResult{}, err
		}

		// Round shape: the assistant tool_use message, then one user
		// message carrying the tool_result blocks.
		var assistantBlocks []anthropic.ContentBlockParamUnion
		if text != "" {
			assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(text))
		}
		for _, tu := range toolUses {
			var input map[string]any
			_ = json.Unmarshal(tu.Input, &input)
			assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(tu.ID, input, tu.Name))
		}
		params.Messages = append(params.Messages, anthropic.NewAssistantMessage(assistantBlocks...))

		resultBlocks := make([]anthropic.ContentBlockParamUnion, len(toolUses))
		for i, tu := range toolUses {
			resultBlocks[i] = anthropic.NewToolResultBlock(tu.ID, outputs[i], false)
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(resultBlocks...))

		exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: text, ToolCalls: toolCalls})
		for i, tu := range toolUses {
			exchange = append(exchange, models.Turn{
				Kind: models.TurnToolResult, ToolCallID: tu.ID, ToolName: tu.Name, Text: outputs[i],
			})
		}
	}
}

func (a *Adapter) finish(req models.GenerateRequest, content string, usage models.Usage, exchange []models.Turn) (models.GenerateResult, error) {
	if req.Session != nil {
		if err := sessioncache.AppendExchange(req.Session, exchange...); err != nil {
			return models.GenerateResult{}, err
		}
	}
	observability.GenerateRequests.WithLabelValues(a.Name(), "ok").Inc()
	return models.GenerateResult{Content: content, Usage: usage}, nil
}

func (a *Adapter) buildParams(req models.GenerateRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxOutputTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.blueprint.Model),
		MaxTokens: int64(maxTokens),
		Messages:  TurnsToMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if req.StructuredOutputSchema != nil {
		schemaJSON, err := json.MarshalIndent(req.StructuredOutputSchema, "", "  ")
		if err != nil {
			return params, adapters.New(adapters.CategoryParsing, a.Name(), err).
				WithMessage("encode structured-output schema")
		}
		params.System = []anthropic.TextBlockParam{{
			Text: "Respond with a single JSON document conforming to this JSON Schema, with no surrounding prose:\n\n" + string(schemaJSON),
		}}
	}

	for _, decl := range a.dispatcher.Declarations(req.DisableMemorySearch, req.VectorStoreIDs) {
		tool, err := declToTool(decl)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, tool)
	}

	if a.blueprint.SupportsThinkingBudget {
		effort := req.ReasoningEffort
		if effort == "" {
			effort = a.blueprint.DefaultReasoningEffort
		}
		if budget, ok := thinkingBudgets[effort]; ok {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		}
	}
	return params, nil
}

func declToTool(decl adapters.ToolDeclaration) (anthropic.ToolUnionParam, error) {
	schemaJSON, err := json.Marshal(decl.Parameters)
	if err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("anthropicapi: encode tool schema for %s: %w", decl.Name, err)
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("anthropicapi: invalid tool schema for %s: %w", decl.Name, err)
	}
	tool := anthropic.ToolUnionParamOfTool(schema, decl.Name)
	if tool.OfTool != nil {
		tool.OfTool.Description = anthropic.String(decl.Description)
	}
	return tool, nil
}

// TurnsToMessages rebuilds Anthropic message params from stored turns.
// Tool results map to user messages carrying tool_result blocks.
func TurnsToMessages(turns []models.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case models.TurnUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		case models.TurnAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if t.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Text))
			}
			for _, call := range t.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(call.Arguments), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case models.TurnToolResult:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(t.ToolCallID, t.Text, false)))
		}
	}
	return out
}

type toolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func splitContent(msg *anthropic.Message) (text string, toolUses []toolUse) {
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolUses = append(toolUses, toolUse{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return text, toolUses
}

func (a *Adapter) guardContextWindow(req models.GenerateRequest) error {
	estimate := optimizer.EstimateTokens(req.Prompt)
	for _, t := range req.Messages {
		estimate += optimizer.EstimateTokens(t.Text)
	}
	if a.blueprint.ContextWindow > 0 && estimate+contextSafetyBuffer > a.blueprint.ContextWindow {
		return adapters.New(adapters.CategoryFatalClient, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage(fmt.Sprintf("request estimate %d tokens exceeds context window %d", estimate, a.blueprint.ContextWindow))
	}
	return nil
}
