package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/ext"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted   = (*MetricsExtension)(nil)
	_ ext.TaskAttempted      = (*MetricsExtension)(nil)
	_ ext.ExecutionSucceeded = (*MetricsExtension)(nil)
	_ ext.ExecutionFailed    = (*MetricsExtension)(nil)
	_ ext.TickFired          = (*MetricsExtension)(nil)
	_ ext.TickDropped        = (*MetricsExtension)(nil)
)

const meterName = "github.com/aws-samples/amazon-ecr-ingestion-demo/observability"

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. Register it as an extension to track execution outcomes, retry
// pressure on the task states, and ticks the scheduler could not turn into
// executions.
type MetricsExtension struct {
	ExecutionStarted   metric.Int64Counter
	ExecutionSucceeded metric.Int64Counter
	ExecutionFailed    metric.Int64Counter
	ExecutionDuration  metric.Float64Histogram
	AttemptRecorded    metric.Int64Counter
	TickFired          metric.Int64Counter
	TickDropped        metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Tests pass a meter backed by a ManualReader.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"imagesigner.execution.duration",
		metric.WithDescription("Time from execution start to success in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		ExecutionStarted:   counter("imagesigner.execution.started", "Executions started", "{execution}"),
		ExecutionSucceeded: counter("imagesigner.execution.succeeded", "Executions that reached their terminal state", "{execution}"),
		ExecutionFailed:    counter("imagesigner.execution.failed", "Executions that failed", "{execution}"),
		ExecutionDuration:  duration,
		AttemptRecorded:    counter("imagesigner.attempt.recorded", "Task attempts written to the execution log", "{attempt}"),
		TickFired:          counter("imagesigner.tick.fired", "Trigger ticks that created an execution", "{tick}"),
		TickDropped:        counter("imagesigner.tick.dropped", "Trigger ticks dropped after exhausting creation attempts", "{tick}"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(ctx context.Context, exec *workflow.Execution) error {
	m.ExecutionStarted.Add(ctx, 1, metric.WithAttributes(definitionAttr(exec)))
	return nil
}

// OnTaskAttempted implements ext.TaskAttempted.
func (m *MetricsExtension) OnTaskAttempted(ctx context.Context, exec *workflow.Execution, a execlog.Attempt) error {
	m.AttemptRecorded.Add(ctx, 1, metric.WithAttributes(
		definitionAttr(exec),
		attribute.String("state", a.State),
		attribute.String("outcome", string(a.Outcome)),
		attribute.String("error_class", a.ErrorClass),
	))
	return nil
}

// OnExecutionSucceeded implements ext.ExecutionSucceeded.
func (m *MetricsExtension) OnExecutionSucceeded(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	attrs := metric.WithAttributes(definitionAttr(exec))
	m.ExecutionSucceeded.Add(ctx, 1, attrs)
	m.ExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (m *MetricsExtension) OnExecutionFailed(ctx context.Context, exec *workflow.Execution, err error) error {
	m.ExecutionFailed.Add(ctx, 1, metric.WithAttributes(
		definitionAttr(exec),
		attribute.String("state", exec.Current),
		attribute.String("error_class", task.ClassOf(err)),
	))
	return nil
}

// ── Schedule hooks ──────────────────────────────────

// OnTickFired implements ext.TickFired.
func (m *MetricsExtension) OnTickFired(ctx context.Context, t *schedule.Trigger, _ time.Time, _ id.ExecutionID) error {
	m.TickFired.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", t.Name)))
	return nil
}

// OnTickDropped implements ext.TickDropped.
func (m *MetricsExtension) OnTickDropped(ctx context.Context, t *schedule.Trigger, _ time.Time, _ error) error {
	m.TickDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", t.Name)))
	return nil
}

func definitionAttr(exec *workflow.Execution) attribute.KeyValue {
	name := ""
	if exec.Definition != nil {
		name = exec.Definition.Name()
	}
	return attribute.String("definition", name)
}
