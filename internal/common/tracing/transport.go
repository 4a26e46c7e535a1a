package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestTracerName = "missioncontrol-apiclient"
	streamTracerName  = "missioncontrol-stream"
)

// TraceRequest starts a span covering one logical request including retries.
// Caller must call span.End() when the call returns.
func TraceRequest(ctx context.Context, method, target, requestID string) (context.Context, trace.Span) {
	ctx, span := Tracer(requestTracerName).Start(ctx, "apiclient.request",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", target),
		attribute.String("request_id", requestID),
	)
	return ctx, span
}

// TraceAttempt starts a child span for a single attempt of a request.
func TraceAttempt(ctx context.Context, attempt int) (context.Context, trace.Span) {
	ctx, span := Tracer(requestTracerName).Start(ctx, "apiclient.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.Int("attempt", attempt))
	return ctx, span
}

// TraceHTTPResponse records response attributes on the span.
func TraceHTTPResponse(span trace.Span, statusCode int, err error) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceDial starts a span for one stream connection attempt.
func TraceDial(ctx context.Context, target string, retryCount int) (context.Context, trace.Span) {
	ctx, span := Tracer(streamTracerName).Start(ctx, "stream.dial",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("stream.target", target),
		attribute.Int("stream.retry_count", retryCount),
	)
	return ctx, span
}

// TraceDialResult records the outcome of a dial on the span.
func TraceDialResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceStreamMessage creates a single span for a delivered stream message.
func TraceStreamMessage(ctx context.Context, kind, target string) {
	_, span := Tracer(streamTracerName).Start(ctx, "stream.message."+kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("stream.kind", kind),
		attribute.String("stream.target", target),
	)
}
