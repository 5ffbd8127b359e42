package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/ext"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.ExecutionStarted   = (*Extension)(nil)
	_ ext.TaskAttempted      = (*Extension)(nil)
	_ ext.ExecutionSucceeded = (*Extension)(nil)
	_ ext.ExecutionFailed    = (*Extension)(nil)
	_ ext.TickFired          = (*Extension)(nil)
	_ ext.TickDropped        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to a logger, one record per event.
type SlogRecorder struct {
	Logger *slog.Logger
}

// Record implements Recorder.
func (r SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("outcome", evt.Outcome),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if len(evt.Metadata) > 0 {
		meta := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	r.Logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (e *Extension) OnExecutionStarted(ctx context.Context, exec *workflow.Execution) error {
	return e.record(ctx, ActionExecutionStarted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, exec.ID.String(), CategoryExecution, nil,
		"definition", definitionName(exec),
		"trigger", triggerString(exec.Trigger),
		"state", exec.Current,
	)
}

// OnTaskAttempted implements ext.TaskAttempted. Failed attempts that will be
// retried are warnings; the final failed attempt is reported again by
// OnExecutionFailed.
func (e *Extension) OnTaskAttempted(ctx context.Context, exec *workflow.Execution, a execlog.Attempt) error {
	kv := []any{
		"definition", definitionName(exec),
		"state", a.State,
		"task", a.Task,
		"attempt", a.Number,
	}
	if a.Outcome == execlog.OutcomeSuccess {
		return e.record(ctx, ActionAttemptSucceeded, SeverityInfo, OutcomeSuccess,
			ResourceExecution, exec.ID.String(), CategoryExecution, nil, kv...)
	}

	kv = append(kv, "error_class", a.ErrorClass)
	if a.Delay > 0 {
		kv = append(kv, "retry_in_ms", a.Delay.Milliseconds())
	}
	var err error
	if a.Error != "" {
		err = fmt.Errorf("%s", a.Error)
	}
	return e.record(ctx, ActionAttemptFailed, SeverityWarning, OutcomeFailure,
		ResourceExecution, exec.ID.String(), CategoryExecution, err, kv...)
}

// OnExecutionSucceeded implements ext.ExecutionSucceeded.
func (e *Extension) OnExecutionSucceeded(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	return e.record(ctx, ActionExecutionSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceExecution, exec.ID.String(), CategoryExecution, nil,
		"definition", definitionName(exec),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (e *Extension) OnExecutionFailed(ctx context.Context, exec *workflow.Execution, execErr error) error {
	return e.record(ctx, ActionExecutionFailed, SeverityCritical, OutcomeFailure,
		ResourceExecution, exec.ID.String(), CategoryExecution, execErr,
		"definition", definitionName(exec),
		"state", exec.Current,
		"error_class", task.ClassOf(execErr),
	)
}

// ── Schedule hooks ──────────────────────────────────

// OnTickFired implements ext.TickFired.
func (e *Extension) OnTickFired(ctx context.Context, t *schedule.Trigger, tick time.Time, executionID id.ExecutionID) error {
	return e.record(ctx, ActionTickFired, SeverityInfo, OutcomeSuccess,
		ResourceTrigger, t.ID.String(), CategorySchedule, nil,
		"trigger_name", t.Name,
		"tick", tick.UTC().Format(time.RFC3339),
		"execution_id", executionID.String(),
	)
}

// OnTickDropped implements ext.TickDropped.
func (e *Extension) OnTickDropped(ctx context.Context, t *schedule.Trigger, tick time.Time, tickErr error) error {
	return e.record(ctx, ActionTickDropped, SeverityCritical, OutcomeFailure,
		ResourceTrigger, t.ID.String(), CategorySchedule, tickErr,
		"trigger_name", t.Name,
		"tick", tick.UTC().Format(time.RFC3339),
		"max_attempts", t.MaxAttempts,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and never propagate to the engine.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func definitionName(exec *workflow.Execution) string {
	if exec.Definition == nil {
		return ""
	}
	return exec.Definition.Name()
}

func triggerString(t id.TriggerID) string {
	if t.IsNil() {
		return ""
	}
	return t.String()
}
