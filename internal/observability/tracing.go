package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lukacf/mcp-the-force-core"

// Tracer returns the process tracer. Without a configured SDK exporter this
// is a no-op tracer, so instrumented paths cost nothing in the default
// build — wiring an exporter is the host's concern.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartToolSpan opens a span around one host tool invocation.
func StartToolSpan(ctx context.Context, toolName, sessionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("session.id", sessionID),
		))
}

// StartProviderSpan opens a span around one provider round-trip.
func StartProviderSpan(ctx context.Context, adapter, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider.generate",
		trace.WithAttributes(
			attribute.String("provider.adapter", adapter),
			attribute.String("provider.model", model),
		))
}
