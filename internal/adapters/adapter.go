package adapters

import (
	"context"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// ProviderAdapter is the uniform contract every concrete provider
// implements: Generate(ctx, request) -> Result, capability-specific
// details hidden behind the request/result shape in pkg/models.
type ProviderAdapter interface {
	// Name identifies the adapter for logging, metrics, and error tagging.
	Name() string

	// Generate drives one full agentic turn: session continuity, the
	// provider call (including any internal tool-call rounds), and
	// returns the terminal assistant content. Implementations MUST
	// re-raise ctx cancellation rather than return a partial result
	// silently.
	Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error)
}

// Dispatcher is the subset of ToolDispatcher every adapter needs, kept as
// an interface here to avoid an import cycle between internal/adapters and
// internal/tooldispatch.
type Dispatcher interface {
	ExecuteBatch(ctx context.Context, callCtx models.CallContext, calls []models.ToolCall) ([]string, error)
	Declarations(disableMemorySearch bool, vectorStoreIDs []string) []ToolDeclaration
}

// ToolDeclaration is the adapter-agnostic shape a Dispatcher emits; each
// adapter converts it into its own wire schema (JSON-Schema-in-function
// wrapper for chat APIs, Gemini FunctionDeclaration for Gemini).
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema object
}

// CancellationLogger wraps a ProviderAdapter to log when the caller's
// context is cancelled mid-generate and re-raise it unchanged. This is the
// middleware/decorator replacement for the original's monkey-patched
// cancellation wrapper: constructed once per
// adapter instance rather than patched onto a shared class at import time.
type CancellationLogger struct {
	Inner ProviderAdapter
	OnCancel func(adapter string, err error)
}

func (c *CancellationLogger) Name() string { return c.Inner.Name() }

func (c *CancellationLogger) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	result, err := c.Inner.Generate(ctx, req)
	if err != nil && ctx.Err() != nil && c.OnCancel != nil {
		c.OnCancel(c.Inner.Name(), err)
	}
	return result, err
}

// WrapWithCancellationLogging constructs a CancellationLogger around an
// adapter, given a logging callback.
func WrapWithCancellationLogging(inner ProviderAdapter, onCancel func(adapter string, err error)) ProviderAdapter {
	return &CancellationLogger{Inner: inner, OnCancel: onCancel}
}
