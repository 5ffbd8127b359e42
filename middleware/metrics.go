package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// meterName is the instrumentation scope name for image signer metrics.
const meterName = "github.com/aws-samples/amazon-ecr-ingestion-demo"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. Without a configured provider the instruments
// are noops.
//
// Instruments:
//   - imagesigner.task.duration (Float64Histogram): attempt time in seconds
//   - imagesigner.task.attempts (Int64Counter): attempts made
//
// Both carry the attributes task, state, status ("ok" or "error") and
// error_class.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"imagesigner.task.duration",
		metric.WithDescription("Duration of task attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"imagesigner.task.attempts",
		metric.WithDescription("Total number of task attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, c *task.Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("task", c.Task),
			attribute.String("state", c.State),
			attribute.String("status", status),
			attribute.String("error_class", task.ClassOf(err)),
		)

		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}
