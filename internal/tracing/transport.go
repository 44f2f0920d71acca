package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const transportTracerName = "augmentos-transport"

func transportTracer() trace.Tracer {
	return Tracer(transportTracerName)
}

// TraceWebhook starts a span for an HTTP call to a TPA backend.
// Caller must call span.End() when the response is received.
func TraceWebhook(ctx context.Context, kind, packageName, userID string) (context.Context, trace.Span) {
	ctx, span := transportTracer().Start(ctx, "webhook."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("webhook.kind", kind),
		attribute.String("package_name", packageName),
		attribute.String("user_id", userID),
	)
	return ctx, span
}

// TraceWebhookResult records response attributes on the span.
func TraceWebhookResult(span trace.Span, statusCode int, attempts int, err error) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("webhook.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceStreamEvent creates a single span for one routed stream event.
func TraceStreamEvent(ctx context.Context, streamType, userID string, recipients int) {
	_, span := transportTracer().Start(ctx, "stream."+streamType,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("stream_type", streamType),
		attribute.String("user_id", userID),
		attribute.Int("recipients", recipients),
	)
}
