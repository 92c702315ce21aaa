// Package providers assembles the concrete adapter set and resolves
// blueprints to adapters, holding one singleton client per provider behind
// a lock.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/cliagents"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/providers/anthropicapi"
	"github.com/lukacf/mcp-the-force-core/internal/providers/geminiapi"
	"github.com/lukacf/mcp-the-force-core/internal/providers/grokapi"
	"github.com/lukacf/mcp-the-force-core/internal/providers/ollamaapi"
	"github.com/lukacf/mcp-the-force-core/internal/providers/openaiapi"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Credentials carries the resolved provider secrets the configuration
// layer injects. Empty fields disable the corresponding provider.
type Credentials struct {
	OpenAIAPIKey    string
	GeminiAPIKey    string
	XAIAPIKey       string
	AnthropicAPIKey string
	OllamaBaseURL   string
	XAIBaseURL      string
	OpenAIBaseURL   string
}

// Resolver builds and caches one adapter per blueprint tool name, sharing
// per-provider clients underneath.
type Resolver struct {
	creds      Credentials
	cfg        config.Settings
	dispatcher adapters.Dispatcher
	registry   *cliagents.Registry
	summarize  cliagents.Summarizer
	logger     *slog.Logger

	mu       sync.Mutex
	byTool   map[string]adapters.ProviderAdapter
	oaClient *openaiapi.Client
	gnClient *genai.Client
	catalog  *ollamaapi.Catalog
}

// NewResolver wires the production resolver.
func NewResolver(creds Credentials, cfg config.Settings, dispatcher adapters.Dispatcher, registry *cliagents.Registry, summarize cliagents.Summarizer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		creds:      creds,
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   registry,
		summarize:  summarize,
		logger:     logger,
		byTool:     map[string]adapters.ProviderAdapter{},
	}
}

// For returns the adapter serving bp, constructing it (and its provider
// client) on first use.
func (r *Resolver) For(bp models.Blueprint) (adapters.ProviderAdapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.byTool[bp.ToolName]; ok {
		return adapter, nil
	}

	adapter, err := r.build(bp)
	if err != nil {
		return nil, err
	}
	wrapped := adapters.WrapWithCancellationLogging(adapter, func(name string, err error) {
		r.logger.Info("generate cancelled", "adapter", name, "error", err)
	})
	r.byTool[bp.ToolName] = wrapped
	return wrapped, nil
}

func (r *Resolver) build(bp models.Blueprint) (adapters.ProviderAdapter, error) {
	switch bp.Adapter {
	case models.AdapterOpenAI:
		if r.creds.OpenAIAPIKey == "" {
			return nil, missingCredentials("openai")
		}
		if r.oaClient == nil {
			r.oaClient = openaiapi.NewClient(r.creds.OpenAIBaseURL, r.creds.OpenAIAPIKey)
		}
		return openaiapi.New(r.oaClient, r.dispatcher, bp, r.cfg.Providers, r.logger), nil

	case models.AdapterGemini:
		if r.creds.GeminiAPIKey == "" {
			return nil, missingCredentials("gemini")
		}
		if r.gnClient == nil {
			client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
				APIKey:  r.creds.GeminiAPIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, adapters.New(adapters.CategoryConfiguration, "gemini", err)
			}
			r.gnClient = client
		}
		return geminiapi.New(r.gnClient, r.dispatcher, bp, r.cfg.Providers, r.logger), nil

	case models.AdapterGrok:
		if r.creds.XAIAPIKey == "" {
			return nil, missingCredentials("grok")
		}
		return grokapi.New(r.creds.XAIBaseURL, r.creds.XAIAPIKey, r.dispatcher, bp, r.cfg.Providers, r.logger), nil

	case models.AdapterOllama:
		if r.catalog == nil {
			r.catalog = ollamaapi.NewCatalog(r.creds.OllamaBaseURL, 0)
		}
		return ollamaapi.New(r.creds.OllamaBaseURL, r.catalog, bp, r.cfg.Providers, r.logger), nil

	case models.AdapterAnthropic:
		if r.creds.AnthropicAPIKey == "" {
			return nil, missingCredentials("anthropic")
		}
		return anthropicapi.New(r.creds.AnthropicAPIKey, r.dispatcher, bp, r.cfg.Providers, r.logger), nil

	case models.AdapterCLI:
		return cliagents.NewService(r.registry, bp, r.cfg.CLIAgents, r.summarize, r.logger), nil
	}
	return nil, adapters.New(adapters.CategoryInvalidModel, "", nil).
		WithMessage(fmt.Sprintf("no adapter kind %q", bp.Adapter))
}

func missingCredentials(provider string) error {
	return adapters.New(adapters.CategoryConfiguration, provider, nil).
		WithMessage("provider credentials are not configured")
}
