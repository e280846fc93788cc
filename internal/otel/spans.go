package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for taskdeck spans.
var (
	AttrToolName     = attribute.Key("taskdeck.tool.name")
	AttrTaskID       = attribute.Key("taskdeck.task.id")
	AttrWorkspaceKey = attribute.Key("taskdeck.workspace.key")
	AttrStatusFrom   = attribute.Key("taskdeck.status.from")
	AttrStatusTo     = attribute.Key("taskdeck.status.to")
	AttrSessionID    = attribute.Key("taskdeck.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound tool call.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
