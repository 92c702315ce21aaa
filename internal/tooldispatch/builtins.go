package tooldispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Builtin tool names the dispatcher declares to providers.
const (
	ToolSearchProjectMemory = "search_project_memory"
	ToolSearchTaskFiles     = "search_task_files"
)

// MemorySearcher serves search_project_memory: semantic search over the
// project's long-lived conversation/commit memory stores.
type MemorySearcher interface {
	SearchMemory(ctx context.Context, project, query string, maxResults int, storeTypes []string) ([]SearchHit, error)
}

// AttachmentSearcher serves search_task_files: search over the overflow
// vector stores attached to the current call.
type AttachmentSearcher interface {
	SearchAttachments(ctx context.Context, storeIDs []string, query string, maxResults int) ([]SearchHit, error)
}

// SearchHit is one result row rendered back to the model.
type SearchHit struct {
	Source  string
	Snippet string
	Score   float64
}

// RegisterBuiltins wires the two standard server-side tools onto d.
func RegisterBuiltins(d *Dispatcher, memory MemorySearcher, attachments AttachmentSearcher) {
	d.Register(adapters.ToolDeclaration{
		Name:        ToolSearchProjectMemory,
		Description: "Search the project's long-term memory (prior conversations and commits) for relevant context.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum results to return"},
				"store_types": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []any{"query"},
		},
	}, memoryHandler(memory))

	d.Register(adapters.ToolDeclaration{
		Name:        ToolSearchTaskFiles,
		Description: "Search the files attached to this task that were too large to include inline.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum results to return"},
			},
			"required": []any{"query"},
		},
	}, attachmentHandler(attachments))
}

func memoryHandler(memory MemorySearcher) Handler {
	return func(ctx context.Context, call models.CallContext, args map[string]any) (string, error) {
		if memory == nil {
			return "", fmt.Errorf("project memory search is not configured")
		}
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		hits, err := memory.SearchMemory(ctx, call.Project, query, intArg(args, "max_results", 10), stringsArg(args, "store_types"))
		if err != nil {
			return "", err
		}
		return renderHits(hits, "No matching project memory found."), nil
	}
}

func attachmentHandler(attachments AttachmentSearcher) Handler {
	return func(ctx context.Context, call models.CallContext, args map[string]any) (string, error) {
		if attachments == nil {
			return "", fmt.Errorf("attachment search is not configured")
		}
		if len(call.VectorStoreIDs) == 0 {
			return "No attachment stores are associated with this call.", nil
		}
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		hits, err := attachments.SearchAttachments(ctx, call.VectorStoreIDs, query, intArg(args, "max_results", 10))
		if err != nil {
			return "", err
		}
		return renderHits(hits, "No matching attachment content found."), nil
	}
}

func renderHits(hits []SearchHit, empty string) string {
	if len(hits) == 0 {
		return empty
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, h.Source, h.Snippet)
	}
	return b.String()
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
