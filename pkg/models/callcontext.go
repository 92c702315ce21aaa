package models

import "time"

// CallContext is the transient per-invocation record passed to adapters and
// tool dispatchers.
type CallContext struct {
	SessionID      string
	Project        string
	ToolName       string
	VectorStoreIDs []string
	Deadline       time.Time
}

// GenerateRequest carries everything an adapter needs for one Generate call.
// Session is the live in-memory session row: adapters append the turns the
// call produced (and stash continuation metadata) on it, and the Executor
// persists it after a successful generate. A failed call must leave
// Session's history untouched.
type GenerateRequest struct {
	Session               *Session
	Prompt                string
	Messages              []Turn
	SessionID             string
	Project               string
	ToolName              string
	VectorStoreIDs        []string
	Temperature           float64
	MaxTokens             int
	ReasoningEffort       ReasoningEffort
	StructuredOutputSchema map[string]any
	SearchMode            string // "auto" | "on" | "off"
	MaxReasoningTokens    int
	ReturnDebug           bool
	DisableMemorySearch   bool
	PreviousResponseID    string
	Extras                map[string]any
}

// GenerateResult is the uniform result every ProviderAdapter returns.
type GenerateResult struct {
	Content    string
	ResponseID string
	Sources    []string
	Usage      Usage
	Debug      map[string]any
}

// Usage captures token accounting reported by the provider, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
