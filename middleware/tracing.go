package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orquesta/orquesta/job"
)

// tracerName is the instrumentation scope name for job tracing.
const tracerName = "github.com/orquesta/orquesta"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: orquesta.job.id, orquesta.job.name,
// orquesta.queue, orquesta.retry_count and orquesta.partition. On error
// the span status is set to codes.Error; a snooze is recorded as an event.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "orquesta.job.execute",
			trace.WithAttributes(
				attribute.String("orquesta.job.id", j.ID.String()),
				attribute.String("orquesta.job.name", j.Name),
				attribute.String("orquesta.queue", j.Queue),
				attribute.Int("orquesta.retry_count", j.RetryCount),
				attribute.String("orquesta.partition", j.Partition),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		switch outcome(err) {
		case "snoozed":
			until, _ := job.AsSnooze(err)
			span.AddEvent("snoozed", trace.WithAttributes(
				attribute.String("orquesta.until", until.UTC().Format(time.RFC3339)),
			))
			span.SetStatus(codes.Ok, "")
		case "error":
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
