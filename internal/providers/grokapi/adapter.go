// Package grokapi implements the xAI Grok adapter: OpenAI-compatible
// chat/completions semantics with the Live Search extension. Message and
// tool shapes reuse the go-openai types; the request itself is posted
// explicitly because search_parameters is an extra_body extension the
// upstream client has no field for.
package grokapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

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

// chatRequest is go-openai's request plus xAI's search_parameters block.
type chatRequest struct {
	openai.ChatCompletionRequest
	SearchParameters *searchParameters `json:"search_parameters,omitempty"`
}

// searchParameters is the Live Search extension; keys are snake_cased on
// the wire.
type searchParameters struct {
	Mode            string `json:"mode"` // "auto" | "on" | "off"
	ReturnCitations bool   `json:"return_citations"`
	MaxSearchResults int   `json:"max_search_results,omitempty"`
}

// chatResponse is go-openai's response plus xAI's top-level citations list.
type chatResponse struct {
	openai.ChatCompletionResponse
	Citations []string `json:"citations,omitempty"`
}

// Adapter implements the ProviderAdapter contract against the xAI endpoint.
type Adapter struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	dispatcher adapters.Dispatcher
	blueprint  models.Blueprint
	cfg        config.ProvidersConfig
	logger     *slog.Logger
}

// New builds an adapter. baseURL defaults to the public xAI API.
func New(baseURL, apiKey string, dispatcher adapters.Dispatcher, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   20 * time.Second,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 180 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       60 * time.Second,
			},
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		dispatcher: dispatcher,
		blueprint:  bp,
		cfg:        cfg,
		logger:     logger,
	}
}

func (a *Adapter) Name() string { return "grok" }

func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	ctx, span := observability.StartProviderSpan(ctx, a.Name(), a.blueprint.Model)
	defer span.End()

	if err := a.guardContextWindow(req); err != nil {
		return models.GenerateResult{}, err
	}

	messages := TurnsToMessages(req.Messages)
	chatReq := a.buildRequest(req, messages)
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

	var sources []string
	var usage models.Usage
	for round := 0; ; round++ {
		resp, err := a.post(ctx, chatReq)
		if err != nil {
			return models.GenerateResult{}, err
		}
		usage = models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if len(resp.Citations) > 0 {
			sources = mergeSources(sources, resp.Citations)
		}
		if len(resp.Choices) == 0 {
			return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
				WithModel(a.blueprint.Model).WithMessage("response contained no choices")
		}
		message := resp.Choices[0].Message

		if len(message.ToolCalls) == 0 {
			if message.Content == "" {
				return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
					WithModel(a.blueprint.Model).WithMessage("response contained no content")
			}
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: message.Content})
			return a.finish(req, message.Content, sources, usage, exchange)
		}

		if round >= maxRounds {
			a.logger.Warn("tool-call round cap reached",
				"model", a.blueprint.Model, "session_id", req.SessionID, "rounds", round)
			exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: TooManyFunctionCalls})
			return a.finish(req, TooManyFunctionCalls, sources, usage, exchange)
		}

		toolCalls := make([]models.ToolCall, len(message.ToolCalls))
		for i, tc := range message.ToolCalls {
			toolCalls[i] = models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
		outputs, err := a.dispatcher.ExecuteBatch(ctx, callCtx, toolCalls)
		if err != nil {
			return models.GenerateResult{}, err
		}

		// chat/completions round shape: the assistant turn with
		// its tool_calls, then one tool-role message per result.
		chatReq.Messages = append(chatReq.Messages, message)
		exchange = append(exchange, models.Turn{Kind: models.TurnAssistant, Text: message.Content, ToolCalls: toolCalls})
		for i, tc := range message.ToolCalls {
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    outputs[i],
				ToolCallID: tc.ID,
			})
			exchange = append(exchange, models.Turn{
				Kind: models.TurnToolResult, ToolCallID: tc.ID, ToolName: tc.Function.Name, Text: outputs[i],
			})
		}
	}
}

func (a *Adapter) finish(req models.GenerateRequest, content string, sources []string, usage models.Usage, exchange []models.Turn) (models.GenerateResult, error) {
	if req.Session != nil {
		if err := sessioncache.AppendExchange(req.Session, exchange...); err != nil {
			return models.GenerateResult{}, err
		}
	}
	observability.GenerateRequests.WithLabelValues(a.Name(), "ok").Inc()
	return models.GenerateResult{Content: content, Sources: sources, Usage: usage}, nil
}

func (a *Adapter) buildRequest(req models.GenerateRequest, messages []openai.ChatCompletionMessage) chatRequest {
	chatReq := chatRequest{
		ChatCompletionRequest: openai.ChatCompletionRequest{
			Model:    a.blueprint.Model,
			Messages: messages,
		},
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxOutputTokens
	}
	chatReq.MaxCompletionTokens = maxTokens
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	for _, decl := range a.dispatcher.Declarations(req.DisableMemorySearch, req.VectorStoreIDs) {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			},
		})
	}

	// Live Search is injected only when the caller opted in.
	switch req.SearchMode {
	case "auto", "on", "off":
		chatReq.SearchParameters = &searchParameters{
			Mode:            req.SearchMode,
			ReturnCitations: true,
		}
	}
	return chatReq
}

func (a *Adapter) post(ctx context.Context, chatReq chatRequest) (*chatResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatReq); err != nil {
		return nil, fmt.Errorf("grokapi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, adapters.New(adapters.CategoryTransientAPI, a.Name(), err).WithModel(a.blueprint.Model)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, adapters.New(adapters.ClassifyStatus(resp.StatusCode), a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithStatus(resp.StatusCode).
			WithMessage(strings.TrimSpace(string(b)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.New(adapters.CategoryParsing, a.Name(), err).
			WithModel(a.blueprint.Model).WithMessage("decode response body")
	}
	return &out, nil
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

// TurnsToMessages rebuilds the chat/completions history shape from stored
// turns: [{role, content, tool_calls?}, ...] with tool-result turns as
// tool-role messages.
func TurnsToMessages(turns []models.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case models.TurnUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Text})
		case models.TurnAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Text}
			for _, call := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, msg)
		case models.TurnToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    t.Text,
				ToolCallID: t.ToolCallID,
			})
		}
	}
	return out
}

func mergeSources(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	return existing
}
