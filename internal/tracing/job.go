package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func StartJobSpan(ctx context.Context, category, jobID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.process."+category,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("job.category", category),
		attribute.String("job.id", jobID),
	)
	return ctx, span
}

// StartPhaseSpan starts a child span for one phase of a job, such as the
// worker run or the archive step.
func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job.phase."+phase)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
