package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/backoff"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	mw "github.com/aws-samples/amazon-ecr-ingestion-demo/middleware"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Emitter receives execution lifecycle events. It is satisfied by
// ext.Registry; workflow does not import ext so the dependency runs one way.
type Emitter interface {
	EmitExecutionStarted(ctx context.Context, exec *Execution)
	EmitAttempt(ctx context.Context, exec *Execution, a execlog.Attempt)
	EmitExecutionSucceeded(ctx context.Context, exec *Execution, elapsed time.Duration)
	EmitExecutionFailed(ctx context.Context, exec *Execution, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitExecutionStarted(context.Context, *Execution)                  {}
func (nopEmitter) EmitAttempt(context.Context, *Execution, execlog.Attempt)          {}
func (nopEmitter) EmitExecutionSucceeded(context.Context, *Execution, time.Duration) {}
func (nopEmitter) EmitExecutionFailed(context.Context, *Execution, error)            {}

// Runner drives executions through their definitions. One Runner serves
// any number of concurrent executions; executions share no mutable state.
type Runner struct {
	tasks   *task.Registry
	store   execlog.Store
	emitter Emitter
	chain   mw.Middleware
	clock   clockwork.Clock
	logger  *slog.Logger

	appendAttempts int
	appendBackoff  backoff.Strategy
}

// Option configures a Runner.
type Option func(*Runner)

// WithEmitter sets the lifecycle event receiver.
func WithEmitter(e Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithMiddleware wraps every task invocation.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(r *Runner) { r.chain = mw.Chain(mws...) }
}

// WithClock sets the clock used for waits and retry delays.
func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithAppendRetry sets how often a failed log append is tried before the
// execution stops advancing.
func WithAppendRetry(attempts int, bo backoff.Strategy) Option {
	return func(r *Runner) {
		r.appendAttempts = attempts
		r.appendBackoff = bo
	}
}

// NewRunner creates a runner that resolves task states against tasks and
// records every step in store.
func NewRunner(tasks *task.Registry, store execlog.Store, opts ...Option) *Runner {
	r := &Runner{
		tasks:          tasks,
		store:          store,
		emitter:        nopEmitter{},
		chain:          mw.Chain(),
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
		appendAttempts: 3,
		appendBackoff:  backoff.NewExponential(50*time.Millisecond, 2, time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates an execution of def at its start state and commits its
// first records. It does not advance the execution.
func (r *Runner) Start(ctx context.Context, def *Definition, input payload.Value, trigger id.TriggerID) (*Execution, error) {
	if input.IsNull() {
		input = payload.Empty()
	}

	exec := &Execution{
		ID:         id.NewExecutionID(),
		Definition: def,
		Trigger:    trigger,
		Current:    def.StartAt(),
		Status:     StatusRunning,
		Payload:    input,
		CreatedAt:  r.clock.Now().UTC(),
		attempts:   make(map[string]int),
	}

	if err := r.append(ctx, exec, &execlog.Record{
		Kind:    execlog.KindExecutionStarted,
		Trigger: trigger,
		State:   exec.Current,
		Payload: input,
	}); err != nil {
		return nil, fmt.Errorf("start execution of %q: %w", def.Name(), err)
	}
	if err := r.append(ctx, exec, &execlog.Record{
		Kind:  execlog.KindStateEntered,
		State: exec.Current,
	}); err != nil {
		return nil, fmt.Errorf("start execution of %q: %w", def.Name(), err)
	}

	r.logger.Info("execution started",
		slog.String("execution_id", exec.ID.String()),
		slog.String("definition", def.Name()),
		slog.String("trigger", trigger.String()),
	)
	r.emitter.EmitExecutionStarted(ctx, exec)
	return exec, nil
}

// Execute starts an execution and runs it to completion.
func (r *Runner) Execute(ctx context.Context, def *Definition, input payload.Value, trigger id.TriggerID) (*Execution, error) {
	exec, err := r.Start(ctx, def, input, trigger)
	if err != nil {
		return nil, err
	}
	return exec, r.Run(ctx, exec)
}

// Run advances exec until it reaches a terminal status. The returned error
// is non-nil only when the execution log could not be written; task
// failures are reflected in exec.Status instead.
func (r *Runner) Run(ctx context.Context, exec *Execution) error {
	for !exec.Done() {
		if err := r.Advance(ctx, exec); err != nil {
			return err
		}
	}
	return nil
}

// Advance moves exec by exactly one state: a task state is invoked (with
// retries) and left, a wait state is waited out and left, and a terminal
// state completes the execution.
//
// ctx is checked at state boundaries and during waits and retry delays.
// When it is done there, the execution fails with class "canceled". A task
// call already in flight is never interrupted by ctx.
func (r *Runner) Advance(ctx context.Context, exec *Execution) error {
	if exec.Done() {
		return fmt.Errorf("%w: %s is %s", ingestion.ErrExecutionFinished, exec.ID, exec.Status)
	}

	st, ok := exec.Definition.State(exec.Current)
	if !ok {
		return r.fail(ctx, exec, exec.Current, exec.Payload,
			task.Errorf(task.ClassUnknown, "state %q not in definition %q", exec.Current, exec.Definition.Name()))
	}

	if st.Kind != KindTerminal {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, exec, st.Name, exec.Payload, task.Wrap(task.ClassCanceled, err))
		}
	}

	switch st.Kind {
	case KindTask:
		return r.runTask(ctx, exec, st)
	case KindWait:
		return r.runWait(ctx, exec, st)
	default:
		return r.succeed(ctx, exec, st)
	}
}

// ──────────────────────────────────────────────────
// States
// ──────────────────────────────────────────────────

func (r *Runner) runTask(ctx context.Context, exec *Execution, st State) error {
	inv, ok := r.tasks.Get(st.Task)
	if !ok {
		return r.fail(ctx, exec, st.Name, exec.Payload,
			task.Errorf(task.ClassUnknown, "%v: %q", ingestion.ErrUnknownTask, st.Task))
	}

	input, err := exec.Payload.Select(st.InputPath)
	if err != nil {
		return r.fail(ctx, exec, st.Name, exec.Payload, task.Wrap(task.ClassMalformedPayload, err))
	}

	for {
		attempt := exec.attempts[st.Name] + 1
		call := &task.Call{
			ExecutionID: exec.ID,
			Definition:  exec.Definition.Name(),
			State:       st.Name,
			Task:        st.Task,
			Attempt:     attempt,
			Input:       input,
		}

		callErr := r.invoke(ctx, inv, call)

		if callErr == nil {
			out, shapeErr := r.shape(exec.Definition, st, call.Output)
			if shapeErr != nil {
				if err := r.recordAttempt(ctx, exec, st, attempt, shapeErr, 0, true, call.Output); err != nil {
					return err
				}
				r.logger.Error("task returned malformed payload",
					slog.String("execution_id", exec.ID.String()),
					slog.String("state", st.Name),
					slog.String("payload", call.Output.String()),
					slog.String("error", shapeErr.Error()),
				)
				return r.fail(ctx, exec, st.Name, call.Output, shapeErr)
			}

			if err := r.recordAttempt(ctx, exec, st, attempt, nil, 0, true, out); err != nil {
				return err
			}
			return r.transition(ctx, exec, st, out)
		}

		te := task.Classify(callErr)
		retryable, delay := retry.ShouldRetry(st.Retry, attempt, te.Class)
		if err := r.recordAttempt(ctx, exec, st, attempt, te, delay, !retryable, input); err != nil {
			return err
		}

		if !retryable {
			if st.Retry.Retries(te.Class) {
				te = &task.Error{
					Class:   te.Class,
					Message: fmt.Sprintf("%v after %d attempts: %s", ingestion.ErrMaxRetriesExceeded, attempt, te.Message),
					Cause:   te,
				}
			}
			return r.fail(ctx, exec, st.Name, exec.Payload, te)
		}

		r.logger.Warn("task attempt failed, retrying",
			slog.String("execution_id", exec.ID.String()),
			slog.String("state", st.Name),
			slog.Int("attempt", attempt),
			slog.String("error_class", te.Class),
			slog.Duration("delay", delay),
		)

		if err := r.sleep(ctx, delay); err != nil {
			return r.fail(ctx, exec, st.Name, exec.Payload, task.Wrap(task.ClassCanceled, err))
		}
	}
}

func (r *Runner) runWait(ctx context.Context, exec *Execution, st State) error {
	r.logger.Debug("waiting",
		slog.String("execution_id", exec.ID.String()),
		slog.String("state", st.Name),
		slog.Duration("wait", st.Wait),
	)
	if err := r.sleep(ctx, st.Wait); err != nil {
		return r.fail(ctx, exec, st.Name, exec.Payload, task.Wrap(task.ClassCanceled, err))
	}
	return r.transition(ctx, exec, st, exec.Payload)
}

func (r *Runner) succeed(ctx context.Context, exec *Execution, st State) error {
	if err := r.append(ctx, exec, &execlog.Record{
		Kind:    execlog.KindExecutionSucceeded,
		State:   st.Name,
		Payload: exec.Payload,
	}); err != nil {
		return err
	}

	now := r.clock.Now().UTC()
	exec.Status = StatusSucceeded
	exec.FinishedAt = &now
	elapsed := now.Sub(exec.CreatedAt)

	r.logger.Info("execution succeeded",
		slog.String("execution_id", exec.ID.String()),
		slog.Duration("elapsed", elapsed),
	)
	r.emitter.EmitExecutionSucceeded(ctx, exec, elapsed)
	return nil
}

// transition commits the move from st to st.Next carrying out.
func (r *Runner) transition(ctx context.Context, exec *Execution, st State, out payload.Value) error {
	if err := r.append(ctx, exec, &execlog.Record{
		Kind:    execlog.KindTransition,
		State:   st.Name,
		Next:    st.Next,
		Payload: out,
	}); err != nil {
		return err
	}
	exec.Payload = out
	exec.Current = st.Next

	return r.append(ctx, exec, &execlog.Record{
		Kind:  execlog.KindStateEntered,
		State: st.Next,
	})
}

func (r *Runner) fail(ctx context.Context, exec *Execution, state string, p payload.Value, te *task.Error) error {
	if err := r.append(ctx, exec, &execlog.Record{
		Kind:       execlog.KindExecutionFailed,
		State:      state,
		ErrorClass: te.Class,
		Error:      te.Error(),
		Payload:    p,
	}); err != nil {
		return err
	}

	now := r.clock.Now().UTC()
	exec.Status = StatusFailed
	exec.ErrorClass = te.Class
	exec.Error = te.Error()
	exec.FinishedAt = &now

	r.logger.Error("execution failed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("state", state),
		slog.String("error_class", te.Class),
		slog.String("error", te.Error()),
	)
	r.emitter.EmitExecutionFailed(ctx, exec, te)
	return nil
}

func (r *Runner) recordAttempt(ctx context.Context, exec *Execution, st State, attempt int, te *task.Error, delay time.Duration, final bool, p payload.Value) error {
	rec := &execlog.Record{
		Kind:    execlog.KindAttempt,
		State:   st.Name,
		Task:    st.Task,
		Attempt: attempt,
		Outcome: execlog.OutcomeSuccess,
		Delay:   delay,
		Final:   final,
		Payload: p,
	}
	if te != nil {
		rec.Outcome = execlog.OutcomeError
		if te.Class == task.ClassTimeout {
			rec.Outcome = execlog.OutcomeTimeout
		}
		rec.ErrorClass = te.Class
		rec.Error = te.Error()
	}

	if err := r.append(ctx, exec, rec); err != nil {
		return err
	}
	exec.attempts[st.Name] = attempt

	r.emitter.EmitAttempt(ctx, exec, execlog.Attempts([]*execlog.Record{rec})[0])
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// invoke calls inv through the middleware chain. The call runs detached
// from ctx cancellation so shutdown never interrupts a task mid-flight.
func (r *Runner) invoke(ctx context.Context, inv task.Invoker, call *task.Call) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked",
				slog.String("execution_id", call.ExecutionID.String()),
				slog.String("task", call.Task),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			err = task.Errorf(task.ClassPanic, "%v", p)
		}
	}()

	return r.chain(context.WithoutCancel(ctx), call, func(ctx context.Context) error {
		out, err := inv.Invoke(ctx, call.Input)
		call.Output = out
		return err
	})
}

// shape applies st.OutputPath to out and checks the result against the
// input expectations of the next task state.
func (r *Runner) shape(def *Definition, st State, out payload.Value) (payload.Value, *task.Error) {
	if out.IsNull() {
		out = payload.Empty()
	}
	selected, err := out.Select(st.OutputPath)
	if err != nil {
		return payload.Value{}, task.Wrap(task.ClassMalformedPayload, err)
	}

	next, ok := def.nextTask(st.Next)
	if !ok {
		return selected, nil
	}
	inv, ok := r.tasks.Get(next.Task)
	if !ok {
		return selected, nil
	}
	v, ok := inv.(task.InputValidator)
	if !ok {
		return selected, nil
	}

	in, err := selected.Select(next.InputPath)
	if err != nil {
		return payload.Value{}, task.Wrap(task.ClassMalformedPayload, err)
	}
	if err := v.ValidateInput(in); err != nil {
		return payload.Value{}, &task.Error{
			Class:   task.ClassMalformedPayload,
			Message: fmt.Sprintf("output of %q rejected by %q: %v", st.Name, next.Name, err),
			Cause:   err,
		}
	}
	return selected, nil
}

// append assigns the next sequence number to rec and writes it, retrying
// transient store errors. exec.seq only moves once the store accepts rec.
func (r *Runner) append(ctx context.Context, exec *Execution, rec *execlog.Record) error {
	rec.ID = id.NewRecordID()
	rec.ExecutionID = exec.ID
	rec.Definition = exec.Definition.Name()
	rec.Seq = exec.seq + 1
	rec.At = r.clock.Now().UTC()

	// Log writes outlive ctx so a cancellation can still be recorded.
	wctx := context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= r.appendAttempts; attempt++ {
		if err = r.store.Append(wctx, rec); err == nil {
			exec.seq = rec.Seq
			return nil
		}
		if errors.Is(err, ingestion.ErrDuplicateRecord) {
			// An earlier try may have committed before its ack was lost.
			if attempt > 1 && r.committed(wctx, rec) {
				exec.seq = rec.Seq
				return nil
			}
			break
		}
		if attempt < r.appendAttempts {
			r.clock.Sleep(r.appendBackoff.Delay(attempt))
		}
	}

	r.logger.Error("execution log append failed, execution halted",
		slog.String("execution_id", exec.ID.String()),
		slog.String("kind", string(rec.Kind)),
		slog.Int64("seq", rec.Seq),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("append %s record %d of %s: %w", rec.Kind, rec.Seq, exec.ID, err)
}

// committed reports whether the log already holds rec at its sequence number.
func (r *Runner) committed(ctx context.Context, rec *execlog.Record) bool {
	records, err := r.store.Query(ctx, rec.ExecutionID)
	if err != nil || rec.Seq < 1 || int64(len(records)) < rec.Seq {
		return false
	}
	return records[rec.Seq-1].ID.String() == rec.ID.String()
}

// sleep blocks for d on the runner's clock or until ctx is done.
func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := r.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
