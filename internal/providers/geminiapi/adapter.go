package geminiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

const contextSafetyBuffer = 4096

// TooManyFunctionCalls is returned as terminal content when the
// function-call round cap is exhausted.
const TooManyFunctionCalls = "TooManyFunctionCalls"

// generateFunc is the call boundary to the SDK, swappable in tests.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Adapter implements the ProviderAdapter contract over the Gemini API.
type Adapter struct {
	generate   generateFunc
	dispatcher adapters.Dispatcher
	blueprint  models.Blueprint
	cfg        config.ProvidersConfig
	logger     *slog.Logger
}

// New builds an adapter over a live genai client.
func New(client *genai.Client, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	a := newWithGenerate(client.Models.GenerateContent, dispatcher, bp, cfg, logger)
	return a
}

func newWithGenerate(generate generateFunc, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{generate: generate, dispatcher: dispatcher, blueprint: bp, cfg: cfg, logger: logger}
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	ctx, span := observability.StartProviderSpan(ctx, a.Name(), a.blueprint.Model)
	defer span.End()

	if err := a.guardContextWindow(req); err != nil {
		return models.GenerateResult{}, err
	}

	genCfg, err := a.buildConfig(req)
	if err != nil {
		return models.GenerateResult{}, err
	}
	contents := TurnsToContents(req.Messages)
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
		resp, err := a.callModel(ctx, contents, genCfg)
		if err != nil {
			return models.GenerateResult{}, err
		}
		if resp.UsageMetadata != nil {
			usage = models.Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
				WithModel(a.blueprint.Model).WithMessage("response contained no candidates")
		}
		content := resp.Candidates[0].Content

		calls := functionCalls(content)
		if len(calls) == 0 {
			text := textOf(content)
			if text == "" {
				return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
					WithModel(a.blueprint.Model).WithMessage("response contained no text")
			}
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: text})
			return a.finish(req, text, usage, exchange)
		}

		if round >= maxRounds {
			a.logger.Warn("function-call round cap reached",
				"model", a.blueprint.Model, "session_id", req.SessionID, "rounds", round)
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: TooManyFunctionCalls})
			return a.finish(req, TooManyFunctionCalls, usage, exchange)
		}

		toolCalls := make([]models.ToolCall, len(calls))
		for i, c := range calls {
			toolCalls[i] = toolCallOf(c)
		}
		outputs, err := a.dispatcher.ExecuteBatch(ctx, callCtx, toolCalls)
		if err != nil {
			return models.GenerateResult{}, err
		}

		// Round shape: append the model content, then a user
		// content whose parts are function_response items, then call again.
		contents = append(contents, content)
		responseParts := make([]*genai.Part, len(calls))
		for i, c := range calls {
			responseParts[i] = &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     c.Name,
					Response: map[string]any{"result": outputs[i]},
				},
			}
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responseParts})

		exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: textOf(content), ToolCalls: toolCalls})
		for i, c := range calls {
			exchange = append(exchange, models.Turn{
				Kind: models.TurnToolResult, ToolCallID: toolCalls[i].ID, ToolName: c.Name, Text: outputs[i],
			})
		}
	}
}

// callModel is the may-block boundary: the SDK call runs in its own
// goroutine so a cancelled caller returns immediately even if the transport
// lags behind the context.
func (a *Adapter) callModel(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	type outcome struct {
		resp *genai.GenerateContentResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := a.generate(ctx, a.blueprint.Model, contents, cfg)
		ch <- outcome{resp, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		if o.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, adapters.New(adapters.CategoryTransientAPI, a.Name(), o.err).WithModel(a.blueprint.Model)
		}
		return o.resp, nil
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

// buildConfig assembles GenerateContentConfig: permissive safety settings
// on every category, tools, the thinking budget, and the structured-output
// response schema with its JSON-compliance system instruction.
func (a *Adapter) buildConfig(req models.GenerateRequest) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: permissiveSafetySettings(),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxOutputTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	decls := a.dispatcher.Declarations(req.DisableMemorySearch, req.VectorStoreIDs)
	cfg.Tools = DeclarationsToTools(decls)

	if a.blueprint.SupportsThinkingBudget {
		effort := req.ReasoningEffort
		if effort == "" {
			effort = a.blueprint.DefaultReasoningEffort
		}
		if budget, ok := ThinkingBudget(a.blueprint.Model, effort); ok {
			cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
		}
	}

	systemText := ""
	if req.StructuredOutputSchema != nil {
		if !a.blueprint.SupportsStructuredOut {
			return nil, adapters.New(adapters.CategoryInvalidModel, a.Name(), nil).
				WithModel(a.blueprint.Model).
				WithMessage("model does not support structured output")
		}
		cfg.ResponseSchema = SchemaFromMap(req.StructuredOutputSchema)
		cfg.ResponseMIMEType = "application/json"
		systemText = "Respond with a single JSON document that conforms exactly to the configured response schema. Do not wrap it in markdown fences or add commentary."
	}
	if systemText != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemText}}}
	}
	return cfg, nil
}

func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, len(categories))
	for i, c := range categories {
		out[i] = &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdOff}
	}
	return out
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

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var out []*genai.FunctionCall
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			out = append(out, part.FunctionCall)
		}
	}
	return out
}

func textOf(content *genai.Content) string {
	var out string
	for _, part := range content.Parts {
		out += part.Text
	}
	return out
}

func toolCallOf(c *genai.FunctionCall) models.ToolCall {
	args := "{}"
	if c.Args != nil {
		if encoded, err := json.Marshal(c.Args); err == nil {
			args = string(encoded)
		}
	}
	id := c.ID
	if id == "" {
		id = c.Name
	}
	return models.ToolCall{ID: id, Name: c.Name, Arguments: args}
}
