package mutation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nestedgraph/internal/mutationerr"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("nestedgraph/mutation")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// finishSpan records the outcome. Typed mutation failures are expected
// results and do not mark the span as errored.
func finishSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err == nil {
		span.SetAttributes(attribute.String("mutation.outcome", "success"))
		return
	}
	kind := mutationerr.KindOf(err)
	span.SetAttributes(
		attribute.String("mutation.outcome", "error"),
		attribute.String("mutation.error.code", kind.Code()),
	)
	if kind == mutationerr.KindUnknown {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
