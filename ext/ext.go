// Package ext defines the extension system for the image signer.
// Extensions are notified of lifecycle events (execution started,
// attempt recorded, tick fired, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionStarted is called once the first records of an execution are
// committed.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, exec *workflow.Execution) error
}

// TaskAttempted is called after every task attempt record is committed.
type TaskAttempted interface {
	OnTaskAttempted(ctx context.Context, exec *workflow.Execution, a execlog.Attempt) error
}

// ExecutionSucceeded is called when an execution reaches its terminal state.
type ExecutionSucceeded interface {
	OnExecutionSucceeded(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error
}

// ExecutionFailed is called when an execution fails.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, exec *workflow.Execution, err error) error
}

// ──────────────────────────────────────────────────
// Schedule hooks
// ──────────────────────────────────────────────────

// TickFired is called when a trigger tick created its execution.
type TickFired interface {
	OnTickFired(ctx context.Context, t *schedule.Trigger, tick time.Time, executionID id.ExecutionID) error
}

// TickDropped is called when a tick exhausted its creation budget.
type TickDropped interface {
	OnTickDropped(ctx context.Context, t *schedule.Trigger, tick time.Time, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
