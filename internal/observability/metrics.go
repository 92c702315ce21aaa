// Package observability holds the process-wide metrics and tracing
// instruments. Only instrumentation lives here — shipping, dashboards, and
// search UIs are out of scope.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolDispatchDuration observes server-side tool handler latency per
	// tool name.
	ToolDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcp_force",
		Subsystem: "tooldispatch",
		Name:      "handler_duration_seconds",
		Help:      "Latency of server-side tool handler executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// GenerateRequests counts adapter Generate calls by adapter and outcome.
	GenerateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_force",
		Subsystem: "adapter",
		Name:      "generate_total",
		Help:      "Adapter Generate calls by adapter name and outcome.",
	}, []string{"adapter", "outcome"})

	// VectorStoreUploads counts uploaded/failed/skipped files per provider.
	VectorStoreUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_force",
		Subsystem: "vectorstore",
		Name:      "files_total",
		Help:      "Vector-store file outcomes by provider and result.",
	}, []string{"provider", "result"})

	// SessionSaves counts session persist operations.
	SessionSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcp_force",
		Subsystem: "sessions",
		Name:      "saves_total",
		Help:      "Session store save operations.",
	})

	// RetryWithReducedContext counts budget-shrink restarts.
	RetryWithReducedContext = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcp_force",
		Subsystem: "executor",
		Name:      "reduced_context_retries_total",
		Help:      "Executor restarts triggered by incomplete: max_output_tokens.",
	})

	// CLIRuns counts subprocess executions by CLI and outcome.
	CLIRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_force",
		Subsystem: "cliagents",
		Name:      "runs_total",
		Help:      "CLI agent subprocess runs by CLI name and outcome.",
	}, []string{"cli", "outcome"})
)
