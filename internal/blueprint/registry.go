// Package blueprint holds the static per-model tool table: each entry maps
// a host-visible tool name to the adapter kind, timeout, context window,
// capability flags, and (for CLI-companioned models) the CLI name.
package blueprint

import (
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Registry resolves tool names to blueprints. It is built once at process
// init — explicit construction, never import-time side effects.
type Registry struct {
	byTool map[string]models.Blueprint
}

// NewRegistry builds a registry from the given blueprints.
func NewRegistry(blueprints []models.Blueprint) *Registry {
	byTool := make(map[string]models.Blueprint, len(blueprints))
	for _, b := range blueprints {
		byTool[b.ToolName] = b
	}
	return &Registry{byTool: byTool}
}

// Resolve returns the blueprint for toolName, or an InvalidModel error when
// the name maps to no blueprint.
func (r *Registry) Resolve(toolName string) (models.Blueprint, error) {
	b, ok := r.byTool[toolName]
	if !ok {
		return models.Blueprint{}, adapters.New(adapters.CategoryInvalidModel, "", nil).
			WithMessage("unknown tool: " + toolName)
	}
	return b, nil
}

// All returns every registered blueprint, for host-side tool registration.
func (r *Registry) All() []models.Blueprint {
	out := make([]models.Blueprint, 0, len(r.byTool))
	for _, b := range r.byTool {
		out = append(out, b)
	}
	return out
}

// Defaults is the static model catalog this server ships with. Context
// windows and timeouts follow each provider's published limits; summarizer
// is the small model describe_session recurses through.
func Defaults() []models.Blueprint {
	return []models.Blueprint{
		{
			ToolName:      "chat_with_gpt52",
			Model:         "gpt-5.2",
			Adapter:       models.AdapterOpenAI,
			Timeout:       10 * time.Minute,
			ContextWindow: 400000,
			SupportsStreaming:         true,
			SupportsStructuredOut:     true,
			SupportsWebSearch:         true,
			NativeVectorStoreProvider: "openai",
			DefaultReasoningEffort:    models.EffortMedium,
		},
		{
			ToolName:      "chat_with_o4_deep",
			Model:         "o4-deep-research",
			Adapter:       models.AdapterOpenAI,
			Timeout:       30 * time.Minute,
			ContextWindow: 200000,
			ForceBackground:           true,
			SupportsStructuredOut:     true,
			NativeVectorStoreProvider: "openai",
			DefaultReasoningEffort:    models.EffortHigh,
		},
		{
			ToolName:      "chat_with_gemini_pro",
			Model:         "gemini-2.5-pro",
			Adapter:       models.AdapterGemini,
			Timeout:       10 * time.Minute,
			ContextWindow: 1048576,
			SupportsStreaming:      true,
			SupportsThinkingBudget: true,
			SupportsStructuredOut:  true,
			DefaultReasoningEffort: models.EffortMedium,
		},
		{
			ToolName:      "chat_with_gemini_flash",
			Model:         "gemini-2.5-flash",
			Adapter:       models.AdapterGemini,
			Timeout:       5 * time.Minute,
			ContextWindow: 1048576,
			SupportsStreaming:      true,
			SupportsThinkingBudget: true,
			SupportsStructuredOut:  true,
			DefaultReasoningEffort: models.EffortLow,
		},
		{
			ToolName:      "chat_with_grok4",
			Model:         "grok-4",
			Adapter:       models.AdapterGrok,
			Timeout:       10 * time.Minute,
			ContextWindow: 256000,
			SupportsStreaming:     true,
			SupportsStructuredOut: true,
			SupportsWebSearch:     true,
			DefaultReasoningEffort: models.EffortMedium,
		},
		{
			ToolName:      "chat_with_claude_opus",
			Model:         "claude-opus-4-5",
			Adapter:       models.AdapterAnthropic,
			Timeout:       10 * time.Minute,
			ContextWindow: 200000,
			SupportsStreaming:      true,
			SupportsThinkingBudget: true,
			SupportsStructuredOut:  true,
			CLIName:                "claude",
			DefaultReasoningEffort: models.EffortMedium,
		},
		{
			ToolName:      "chat_with_codex",
			Model:         "gpt-5.2-codex",
			Adapter:       models.AdapterCLI,
			Timeout:       10 * time.Minute,
			ContextWindow: 400000,
			CLIName:                "codex",
			DefaultReasoningEffort: models.EffortMedium,
		},
		{
			ToolName:      "chat_with_gemini_cli",
			Model:         "gemini-2.5-pro",
			Adapter:       models.AdapterCLI,
			Timeout:       10 * time.Minute,
			ContextWindow: 1048576,
			CLIName: "gemini",
		},
		{
			ToolName:      "chat_with_local_model",
			Model:         "llama3.3",
			Adapter:       models.AdapterOllama,
			Timeout:       5 * time.Minute,
			ContextWindow: 131072,
		},
		{
			ToolName:      "summarize_session",
			Model:         "gpt-5.2-mini",
			Adapter:       models.AdapterOpenAI,
			Timeout:       2 * time.Minute,
			ContextWindow: 400000,
			SupportsStreaming: true,
		},
	}
}
