// Package optimizer defines the token-budget optimizer contract the
// Executor drives. The real ranking/chunking pipeline is an external
// collaborator; SimpleOptimizer is a reference implementation for wiring
// and tests, not a claim about the production ranking algorithm.
package optimizer

import (
	"context"
	"fmt"
	"os"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Request carries the optimizer inputs the Executor assembles.
type Request struct {
	Instructions  string
	OutputFormat  string
	ContextPaths  []string
	PriorityPaths []string
	History       []models.Turn
	TokenBudget   int
}

// Result is the optimizer's finalized output: the message list to send,
// the files that did not fit inline, and the token count consumed.
type Result struct {
	Messages      []models.Turn
	OverflowPaths []string
	TokenCount    int
}

// Optimizer produces a finalized message list under a token budget.
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (Result, error)
}

// SimpleOptimizer inlines priority paths first, then context paths in
// order, until the budget is exhausted; everything that does not fit is
// overflowed. Token estimation is the usual chars/4 heuristic.
type SimpleOptimizer struct {
	// ReadFile is swappable for tests; defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// NewSimpleOptimizer returns a filesystem-backed SimpleOptimizer.
func NewSimpleOptimizer() *SimpleOptimizer {
	return &SimpleOptimizer{ReadFile: os.ReadFile}
}

// EstimateTokens approximates token usage for text.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (o *SimpleOptimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	if req.TokenBudget <= 0 {
		return Result{}, fmt.Errorf("optimizer: token budget must be positive, got %d", req.TokenBudget)
	}

	prompt := req.Instructions
	if req.OutputFormat != "" {
		prompt += "\n\nRespond in this format: " + req.OutputFormat
	}

	used := EstimateTokens(prompt)
	for _, t := range req.History {
		used += EstimateTokens(t.Text)
	}

	var inlined []models.Turn
	var overflow []string

	ordered := append(append([]string{}, req.PriorityPaths...), req.ContextPaths...)
	seen := map[string]bool{}
	for _, path := range ordered {
		if seen[path] {
			continue
		}
		seen[path] = true
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		data, err := o.ReadFile(path)
		if err != nil {
			// Unreadable context paths overflow rather than fail the turn;
			// the vector-store pipeline filters them again on upload.
			overflow = append(overflow, path)
			continue
		}
		cost := EstimateTokens(string(data))
		if used+cost > req.TokenBudget {
			overflow = append(overflow, path)
			continue
		}
		used += cost
		inlined = append(inlined, models.Turn{
			Kind: models.TurnUser,
			Text: fmt.Sprintf("File: %s\n\n%s", path, string(data)),
		})
	}

	messages := append([]models.Turn{}, req.History...)
	messages = append(messages, inlined...)
	messages = append(messages, models.Turn{Kind: models.TurnUser, Text: prompt})

	return Result{Messages: messages, OverflowPaths: overflow, TokenCount: used}, nil
}
