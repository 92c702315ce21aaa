// Package tooldispatch implements the server-side tool dispatcher: a central
// name→handler registry for the server-side tools a provider may invoke
// during its agentic loop, executed with a shared global concurrency bound.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Handler executes one server-side tool call. args is the decoded JSON
// argument object; the returned string is handed back to the model
// verbatim.
type Handler func(ctx context.Context, call models.CallContext, args map[string]any) (string, error)

// registration pairs a handler with its declaration schema.
type registration struct {
	declaration adapters.ToolDeclaration
	handler     Handler
}

// Dispatcher is safe for concurrent use. The semaphore is shared across
// every turn in the process — the bound is global, not per-request.
type Dispatcher struct {
	tools  map[string]registration
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher bounded at maxParallel concurrent
// handler executions (default 8).
func NewDispatcher(maxParallel int, logger *slog.Logger) *Dispatcher {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tools:  map[string]registration{},
		sem:    semaphore.NewWeighted(int64(maxParallel)),
		logger: logger,
	}
}

// Register adds a tool. Re-registering a name replaces the previous
// handler; registration happens at process init, never mid-request.
func (d *Dispatcher) Register(decl adapters.ToolDeclaration, handler Handler) {
	d.tools[decl.Name] = registration{declaration: decl, handler: handler}
}

// Declarations returns the tool declarations appropriate for the current
// call. disableMemorySearch suppresses search_project_memory;
// search_task_files is declared only when vector stores are present.
func (d *Dispatcher) Declarations(disableMemorySearch bool, vectorStoreIDs []string) []adapters.ToolDeclaration {
	var out []adapters.ToolDeclaration
	for name, reg := range d.tools {
		if disableMemorySearch && name == ToolSearchProjectMemory {
			continue
		}
		if name == ToolSearchTaskFiles && len(vectorStoreIDs) == 0 {
			continue
		}
		out = append(out, reg.declaration)
	}
	return out
}

// ExecuteBatch runs calls under the global semaphore and returns one result
// string per call, in call order. A handler failure never aborts the batch:
// the error is logged and converted to an error-string payload for that
// single call so the model can recover.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, callCtx models.CallContext, calls []models.ToolCall) ([]string, error) {
	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := d.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer d.sem.Release(1)

			start := time.Now()
			results[i] = d.executeOne(gctx, callCtx, call)
			observability.ToolDispatchDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only cancellation escapes executeOne; re-raise it rather than
		// returning partial results silently.
		return nil, err
	}
	return results, nil
}

func (d *Dispatcher) executeOne(ctx context.Context, callCtx models.CallContext, call models.ToolCall) string {
	reg, ok := d.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: tool %q received malformed arguments: %v", call.Name, err)
		}
	}

	result, err := reg.handler(ctx, callCtx, args)
	if err != nil {
		d.logger.Error("tool handler failed",
			"tool", call.Name, "call_id", call.ID, "session_id", callCtx.SessionID, "error", err)
		return fmt.Sprintf("Error executing %s: %v", call.Name, err)
	}
	return result
}
