package ollamaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// chatMessage is the /api/chat message shape. Content is always a flat
// string — array content is flattened before sending.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Adapter implements the ProviderAdapter contract for local Ollama models.
type Adapter struct {
	baseURL   string
	http      *http.Client
	catalog   *Catalog
	blueprint models.Blueprint
	cfg       config.ProvidersConfig
	logger    *slog.Logger
}

// New builds an adapter sharing catalog's discovery state.
func New(baseURL string, catalog *Catalog, bp models.Blueprint, cfg config.ProvidersConfig, logger *slog.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Minute},
		catalog:   catalog,
		blueprint: bp,
		cfg:       cfg,
		logger:    logger,
	}
}

func (a *Adapter) Name() string { return "ollama" }

func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	ctx, span := observability.StartProviderSpan(ctx, a.Name(), a.blueprint.Model)
	defer span.End()

	// Structured-output schemas are rejected: only free-form JSON mode is
	// supported locally; the capability table must not advertise what the
	// request builder rejects.
	if req.StructuredOutputSchema != nil {
		return models.GenerateResult{}, adapters.New(adapters.CategoryInvalidModel, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage("local models do not support structured output schemas; use format=json")
	}

	info, ok := a.catalog.Resolve(ctx, a.blueprint.Model)
	if !ok {
		return models.GenerateResult{}, adapters.New(adapters.CategoryInvalidModel, a.Name(), nil).
			WithModel(a.blueprint.Model).
			WithMessage("model not present in local catalog")
	}

	chatReq := chatRequest{
		Model:    a.blueprint.Model,
		Messages: flattenTurns(req.Messages),
		Stream:   false,
		Options: map[string]any{
			// num_ctx always comes from the resolved, memory-clamped
			// capability, never the model's advertised maximum.
			"num_ctx": info.ContextLength,
		},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}
	if format, _ := req.Extras["format"].(string); format == "json" {
		chatReq.Format = "json"
	}

	resp, err := a.post(ctx, chatReq)
	if err != nil {
		return models.GenerateResult{}, err
	}
	if resp.Message.Content == "" {
		return models.GenerateResult{}, adapters.New(adapters.CategoryTransientAPI, a.Name(), nil).
			WithModel(a.blueprint.Model).WithMessage("response contained no content")
	}

	if req.Session != nil {
		err := sessioncache.AppendExchange(req.Session,
			models.Turn{Kind: models.TurnUser, Text: req.Prompt},
			models.Turn{Kind: models.TurnAssistant, Text: resp.Message.Content},
		)
		if err != nil {
			return models.GenerateResult{}, err
		}
	}

	observability.GenerateRequests.WithLabelValues(a.Name(), "ok").Inc()
	return models.GenerateResult{
		Content: resp.Message.Content,
		Usage: models.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (a *Adapter) post(ctx context.Context, chatReq chatRequest) (*chatResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatReq); err != nil {
		return nil, fmt.Errorf("ollamaapi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, adapters.New(adapters.CategoryTransientAPI, a.Name(), err).WithModel(a.blueprint.Model)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
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

// flattenTurns renders stored turns to plain role/content pairs. Tool
// bookkeeping turns collapse into their text; there is no tool protocol on
// this path.
func flattenTurns(turns []models.Turn) []chatMessage {
	out := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Kind == models.TurnAssistant {
			role = "assistant"
		}
		if t.Text == "" {
			continue
		}
		out = append(out, chatMessage{Role: role, Content: t.Text})
	}
	return out
}
