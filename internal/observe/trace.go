package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxtrigger"

// Span attribute keys shared by the pipeline stages.
const (
	AttrSegmentID = attribute.Key("voxtrigger.segment.id")
	AttrDevice    = attribute.Key("voxtrigger.device")
	AttrOutcome   = attribute.Key("voxtrigger.match.outcome")
)

type segmentKey struct{}

// StartSpan starts a span on the global tracer provider. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartSegmentSpan starts a span for one pipeline stage of a speech segment.
// The segment ID is recorded on the span and carried in the returned context,
// so [Logger] tags every line of that segment with it.
func StartSegmentSpan(ctx context.Context, stage, segmentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrSegmentID.String(segmentID))
	ctx = context.WithValue(ctx, segmentKey{}, segmentID)
	return StartSpan(ctx, stage, trace.WithAttributes(attrs...))
}

// SegmentID returns the segment carried by ctx, if any.
func SegmentID(ctx context.Context) string {
	id, _ := ctx.Value(segmentKey{}).(string)
	return id
}

// TraceID returns the trace ID of the active span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the segment, trace and span
// IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := SegmentID(ctx); id != "" {
		attrs = append(attrs, slog.String("segment_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
