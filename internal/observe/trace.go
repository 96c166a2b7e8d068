package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/babelcast"

// Span attribute keys shared by the pipeline stages.
const (
	AttrUtteranceID = attribute.Key("babelcast.utterance.id")
	AttrSeq         = attribute.Key("babelcast.utterance.seq")
	AttrLang        = attribute.Key("babelcast.lang")
	AttrStage       = attribute.Key("babelcast.stage")
)

// Tracer returns the Babelcast tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartUtterance starts the root span of one utterance. Every per-language
// span of the utterance is a child of it.
func StartUtterance(ctx context.Context, utteranceID string, seq uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "utterance",
		trace.WithNewRoot(),
		trace.WithAttributes(AttrUtteranceID.String(utteranceID), AttrSeq.Int64(int64(seq))),
	)
}

// StartStage starts a span for one pipeline stage. lang may be empty for
// stages that are not per language.
func StartStage(ctx context.Context, stage, lang string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrStage.String(stage)}
	if lang != "" {
		attrs = append(attrs, AttrLang.String(lang))
	}
	return StartSpan(ctx, stage, trace.WithAttributes(attrs...))
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
