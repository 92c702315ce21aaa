package openaiapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/backoff"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// contextSafetyBuffer is the token headroom the context-window guard
// reserves on top of the prompt estimate.
const contextSafetyBuffer = 4096

// TooManyFunctionCalls is the terminal content returned when the agentic
// loop hits its round cap without producing text.
const TooManyFunctionCalls = "TooManyFunctionCalls"

// Adapter drives the Responses API: strategy selection (background polling
// vs. streaming), the function-call follow-up loop, structured output, and
// session continuity via previous_response_id.
type Adapter struct {
	client     *Client
	dispatcher adapters.Dispatcher
	blueprint  models.Blueprint
	cfg        config.ProvidersConfig
	logger     *slog.Logger
}

// New builds an adapter for one blueprint.
func New(client *Client, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, dispatcher: dispatcher, blueprint: bp, cfg: cfg, logger: logger}
}

func (a *Adapter) Name() string { return "openai" }

// Generate implements the ProviderAdapter contract for the Responses API.
func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	ctx, span := observability.StartProviderSpan(ctx, a.Name(), a.blueprint.Model)
	defer span.End()

	if err := a.guardContextWindow(req); err != nil {
		return models.GenerateResult{}, err
	}

	create := a.buildCreate(req)
	useBackground := a.useBackground(ctx)
	callCtx := models.CallContext{
		SessionID:      req.SessionID,
		Project:        req.Project,
		ToolName:       req.ToolName,
		VectorStoreIDs: req.VectorStoreIDs,
	}

	var exchange []models.Turn
	exchange = append(exchange, models.Turn{Kind: models.TurnUser, Text: req.Prompt})

	resp, err := a.execute(ctx, create, useBackground)
	if err != nil {
		return models.GenerateResult{}, err
	}

	for round := 0; ; round++ {
		if err := a.checkTerminalStatus(resp); err != nil {
			return models.GenerateResult{}, err
		}

		calls := resp.functionCalls()
		if len(calls) == 0 {
			return a.finish(req, resp, exchange)
		}

		if round >= a.maxFunctionCalls() {
			a.logger.Warn("function-call round cap reached",
				"model", a.blueprint.Model, "session_id", req.SessionID, "rounds", round)
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: TooManyFunctionCalls})
			return a.finishTerminal(req, resp, exchange, TooManyFunctionCalls)
		}

		toolCalls := make([]models.ToolCall, len(calls))
		for i, c := range calls {
			toolCalls[i] = models.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments}
		}
		outputs, err := a.dispatcher.ExecuteBatch(ctx, callCtx, toolCalls)
		if err != nil {
			return models.GenerateResult{}, err
		}

		exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, ToolCalls: toolCalls})
		followupInput := make([]functionCallOutput, len(calls))
		for i, c := range calls {
			followupInput[i] = functionCallOutput{Type: "function_call_output", CallID: c.CallID, Output: outputs[i]}
			exchange = append(exchange, models.Turn{
				Kind: models.TurnToolResult, ToolCallID: c.CallID, ToolName: c.Name, Text: outputs[i],
			})
		}

		// Follow-up rounds send ONLY the tool outputs; the server retains
		// the conversation, reasoning items included, under the previous
		// response id.
		followup := request{
			Model:              create.Model,
			PreviousResponseID: resp.ID,
			Input:              followupInput,
			Tools:              create.Tools,
			MaxOutputTokens:    create.MaxOutputTokens,
			Store:              true,
		}
		resp, err = a.execute(ctx, followup, useBackground)
		if err != nil {
			return models.GenerateResult{}, err
		}
	}
}

func (a *Adapter) finish(req models.GenerateRequest, resp *response, exchange []models.Turn) (models.GenerateResult, error) {
	content := resp.outputText()
	if content == "" {
		return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage("completed response contained no output text")
	}
	if req.StructuredOutputSchema != nil {
		if err := ValidateAgainstSchema(content, req.StructuredOutputSchema); err != nil {
			return models.GenerateResult{}, err
		}
	}
	exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: content})
	return a.finishTerminal(req, resp, exchange, content)
}

func (a *Adapter) finishTerminal(req models.GenerateRequest, resp *response, exchange []models.Turn, content string) (models.GenerateResult, error) {
	if req.Session != nil {
		if err := sessioncache.AppendExchange(req.Session, exchange...); err != nil {
			return models.GenerateResult{}, err
		}
		sessioncache.SetPreviousResponseID(req.Session, resp.ID)
	}

	result := models.GenerateResult{
		Content:    content,
		ResponseID: resp.ID,
		Sources:    resp.sources(),
	}
	if resp.Usage != nil {
		result.Usage = models.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if req.ReturnDebug {
		result.Debug = map[string]any{"status": resp.Status, "output_items": len(resp.Output)}
	}
	observability.GenerateRequests.WithLabelValues(a.Name(), "ok").Inc()
	return result, nil
}

// checkTerminalStatus translates a terminal response status into the
// adapter error taxonomy. "incomplete: max_output_tokens" becomes the typed
// retry signal the Executor shrinks the budget for.
func (a *Adapter) checkTerminalStatus(resp *response) error {
	switch resp.Status {
	case "completed":
		return nil
	case "incomplete":
		reason := ""
		if resp.IncompleteDetails != nil {
			reason = resp.IncompleteDetails.Reason
		}
		if reason == string(adapters.RetryReasonMaxOutputTokens) {
			observability.GenerateRequests.WithLabelValues(a.Name(), "incomplete").Inc()
			return &adapters.RetryWithReducedContext{Reason: adapters.RetryReasonMaxOutputTokens}
		}
		return adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage("incomplete response: " + reason)
	case "failed":
		msg := "response failed"
		if resp.Error != nil {
			msg = fmt.Sprintf("response failed: %s (%s)", resp.Error.Message, resp.Error.Code)
		}
		return adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
			WithModel(a.blueprint.Model).WithMessage(msg)
	default:
		return adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage("unexpected terminal status: " + resp.Status)
	}
}

// execute runs one request through the selected strategy and returns a
// terminal response.
func (a *Adapter) execute(ctx context.Context, req request, useBackground bool) (*response, error) {
	if !useBackground {
		return a.client.CreateStreaming(ctx, req)
	}

	req.Background = true
	req.Store = true
	resp, err := a.client.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.terminal() {
		return resp, nil
	}
	return a.poll(ctx, resp.ID)
}

// poll retrieves a background response on a fixed schedule (initial 3s,
// multiplier 1.8 with jitter, cap 30s) until it reaches a terminal status
// or the call deadline fires.
func (a *Adapter) poll(ctx context.Context, responseID string) (*response, error) {
	policy := backoff.OpenAIPollPolicy()
	for attempt := 1; ; attempt++ {
		if err := backoff.SleepForAttempt(ctx, policy, attempt); err != nil {
			// Cancellation: the server-side job keeps running; we simply
			// stop polling it.
			return nil, err
		}
		resp, err := a.client.Retrieve(ctx, responseID)
		if err != nil {
			return nil, err
		}
		if resp.terminal() {
			return resp, nil
		}
	}
}

func (a *Adapter) buildCreate(req models.GenerateRequest) request {
	create := request{
		Model:           a.blueprint.Model,
		MaxOutputTokens: req.MaxTokens,
		Store:           true,
	}
	if create.MaxOutputTokens <= 0 {
		create.MaxOutputTokens = a.cfg.MaxOutputTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		create.Temperature = &t
	}

	if effort := a.resolveEffort(req.ReasoningEffort); effort != "" {
		create.Reasoning = &reasoningParams{Effort: effort}
	}

	if req.StructuredOutputSchema != nil {
		create.Text = &textParams{Format: &formatParams{
			Type:   "json_schema",
			Name:   "response",
			Schema: MassageSchema(req.StructuredOutputSchema),
			Strict: true,
		}}
	}

	create.Tools = a.buildTools(req)

	// With a stored previous response, send only the new delta — the
	// turns the optimizer appended after the persisted history.
	if prev := previousID(req); prev != "" {
		create.PreviousResponseID = prev
		create.Input = toInputMessages(deltaTurns(req))
	} else {
		create.Input = toInputMessages(req.Messages)
	}
	return create
}

// buildTools assembles the wire tool list: the native file_search tool when
// the model's capability binds it to this provider's stores, the
// dispatcher's function tools otherwise.
func (a *Adapter) buildTools(req models.GenerateRequest) []map[string]any {
	var tools []map[string]any

	nativeSearch := a.blueprint.NativeVectorStoreProvider == "openai" && len(req.VectorStoreIDs) > 0
	if nativeSearch {
		ids := make([]any, len(req.VectorStoreIDs))
		for i, id := range req.VectorStoreIDs {
			ids[i] = id
		}
		tools = append(tools, map[string]any{"type": "file_search", "vector_store_ids": ids})
	}

	declStoreIDs := req.VectorStoreIDs
	if nativeSearch {
		declStoreIDs = nil // search_task_files is redundant next to native file_search
	}
	for _, decl := range a.dispatcher.Declarations(req.DisableMemorySearch, declStoreIDs) {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        decl.Name,
			"description": decl.Description,
			"parameters":  decl.Parameters,
			"strict":      false,
		})
	}

	if a.blueprint.SupportsWebSearch && req.SearchMode != "off" && req.SearchMode != "" {
		tools = append(tools, map[string]any{"type": "web_search"})
	}
	return tools
}

func (a *Adapter) resolveEffort(effort models.ReasoningEffort) string {
	if effort == "" {
		effort = a.blueprint.DefaultReasoningEffort
	}
	switch effort {
	case models.EffortLow, models.EffortMedium, models.EffortHigh:
		return string(effort)
	case models.EffortXHigh:
		return "high"
	}
	return ""
}

// useBackground selects the execution strategy: background polling when the
// capability forces it, when streaming is unsupported, or when the call
// deadline exceeds the streaming threshold.
func (a *Adapter) useBackground(ctx context.Context) bool {
	if a.blueprint.ForceBackground || !a.blueprint.SupportsStreaming {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	threshold := time.Duration(a.cfg.StreamTimeoutThresholdSeconds) * time.Second
	if threshold <= 0 {
		threshold = 180 * time.Second
	}
	return time.Until(deadline) > threshold
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

func (a *Adapter) maxFunctionCalls() int {
	if a.cfg.MaxFunctionCalls > 0 {
		return a.cfg.MaxFunctionCalls
	}
	return 500
}

func previousID(req models.GenerateRequest) string {
	if req.PreviousResponseID != "" {
		return req.PreviousResponseID
	}
	if req.Session != nil {
		return sessioncache.PreviousResponseID(req.Session)
	}
	return ""
}

// deltaTurns returns the optimizer messages that are new relative to the
// persisted history — the only turns a continuation request may resend.
func deltaTurns(req models.GenerateRequest) []models.Turn {
	if req.Session == nil || len(req.Messages) <= len(req.Session.History) {
		return req.Messages
	}
	return req.Messages[len(req.Session.History):]
}

func toInputMessages(turns []models.Turn) []inputMessage {
	out := make([]inputMessage, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Kind == models.TurnAssistant {
			role = "assistant"
		}
		if t.Text == "" {
			continue // tool-call bookkeeping turns are server-side state here
		}
		out = append(out, inputMessage{Role: role, Content: t.Text})
	}
	return out
}
