package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

var (
	_ workflow.Emitter = (*Registry)(nil)
	_ schedule.Emitter = (*Registry)(nil)
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type executionStartedEntry struct {
	name string
	hook ExecutionStarted
}

type taskAttemptedEntry struct {
	name string
	hook TaskAttempted
}

type executionSucceededEntry struct {
	name string
	hook ExecutionSucceeded
}

type executionFailedEntry struct {
	name string
	hook ExecutionFailed
}

type tickFiredEntry struct {
	name string
	hook TickFired
}

type tickDroppedEntry struct {
	name string
	hook TickDropped
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register extensions before the engine starts; emitting is safe from
// many goroutines, registering concurrently with emitting is not.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	executionStarted   []executionStartedEntry
	taskAttempted      []taskAttemptedEntry
	executionSucceeded []executionSucceededEntry
	executionFailed    []executionFailedEntry
	tickFired          []tickFiredEntry
	tickDropped        []tickDroppedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionStarted); ok {
		r.executionStarted = append(r.executionStarted, executionStartedEntry{name, h})
	}
	if h, ok := e.(TaskAttempted); ok {
		r.taskAttempted = append(r.taskAttempted, taskAttemptedEntry{name, h})
	}
	if h, ok := e.(ExecutionSucceeded); ok {
		r.executionSucceeded = append(r.executionSucceeded, executionSucceededEntry{name, h})
	}
	if h, ok := e.(ExecutionFailed); ok {
		r.executionFailed = append(r.executionFailed, executionFailedEntry{name, h})
	}
	if h, ok := e.(TickFired); ok {
		r.tickFired = append(r.tickFired, tickFiredEntry{name, h})
	}
	if h, ok := e.(TickDropped); ok {
		r.tickDropped = append(r.tickDropped, tickDroppedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, exec *workflow.Execution) {
	for _, e := range r.executionStarted {
		if err := e.hook.OnExecutionStarted(ctx, exec); err != nil {
			r.logHookError("OnExecutionStarted", e.name, err)
		}
	}
}

// EmitAttempt notifies all extensions that implement TaskAttempted.
func (r *Registry) EmitAttempt(ctx context.Context, exec *workflow.Execution, a execlog.Attempt) {
	for _, e := range r.taskAttempted {
		if err := e.hook.OnTaskAttempted(ctx, exec, a); err != nil {
			r.logHookError("OnTaskAttempted", e.name, err)
		}
	}
}

// EmitExecutionSucceeded notifies all extensions that implement ExecutionSucceeded.
func (r *Registry) EmitExecutionSucceeded(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) {
	for _, e := range r.executionSucceeded {
		if err := e.hook.OnExecutionSucceeded(ctx, exec, elapsed); err != nil {
			r.logHookError("OnExecutionSucceeded", e.name, err)
		}
	}
}

// EmitExecutionFailed notifies all extensions that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, exec *workflow.Execution, execErr error) {
	for _, e := range r.executionFailed {
		if err := e.hook.OnExecutionFailed(ctx, exec, execErr); err != nil {
			r.logHookError("OnExecutionFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Schedule event emitters
// ──────────────────────────────────────────────────

// EmitTickFired notifies all extensions that implement TickFired.
func (r *Registry) EmitTickFired(ctx context.Context, t *schedule.Trigger, tick time.Time, executionID id.ExecutionID) {
	for _, e := range r.tickFired {
		if err := e.hook.OnTickFired(ctx, t, tick, executionID); err != nil {
			r.logHookError("OnTickFired", e.name, err)
		}
	}
}

// EmitTickDropped notifies all extensions that implement TickDropped.
func (r *Registry) EmitTickDropped(ctx context.Context, t *schedule.Trigger, tick time.Time, dropErr error) {
	for _, e := range r.tickDropped {
		if err := e.hook.OnTickDropped(ctx, t, tick, dropErr); err != nil {
			r.logHookError("OnTickDropped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not stop an execution.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
