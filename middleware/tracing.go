package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// tracerName is the instrumentation scope name for image signer tracing.
const tracerName = "github.com/aws-samples/amazon-ecr-ingestion-demo"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: imagesigner.execution.id, imagesigner.definition,
// imagesigner.state, imagesigner.task, imagesigner.attempt. Failed attempts
// carry imagesigner.error_class and an error status.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *task.Call, next Handler) error {
		ctx, span := tracer.Start(ctx, "imagesigner.task.invoke",
			trace.WithAttributes(
				attribute.String("imagesigner.execution.id", c.ExecutionID.String()),
				attribute.String("imagesigner.definition", c.Definition),
				attribute.String("imagesigner.state", c.State),
				attribute.String("imagesigner.task", c.Task),
				attribute.Int("imagesigner.attempt", c.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("imagesigner.error_class", task.ClassOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
