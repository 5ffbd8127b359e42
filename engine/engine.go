// Package engine wires the image signer subsystems together. It creates the
// extension registry, task registry, middleware chain, runner and
// scheduler, and starts executions on behalf of triggers and callers.
//
// This package exists to break the import cycle: workflow and schedule
// define the emitter interfaces that ext.Registry satisfies, and ext imports
// both. The engine sits above all subsystem packages and below the
// application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	audithook "github.com/aws-samples/amazon-ecr-ingestion-demo/audit_hook"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/ext"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	mw "github.com/aws-samples/amazon-ecr-ingestion-demo/middleware"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/observability"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/stream"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task/dryrun"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task/httptask"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

const instrumentationName = "github.com/aws-samples/amazon-ecr-ingestion-demo"

// Engine owns the runner and scheduler of one process.
// Use Build() to create one.
type Engine struct {
	cfg        ingestion.Config
	store      store.Store
	extensions *ext.Registry
	exts       []ext.Extension
	tasks      *task.Registry
	defs       *workflow.Registry
	runner     *workflow.Runner
	scheduler  *schedule.Scheduler
	broker     *stream.Broker
	mws        []mw.Middleware
	clock      clockwork.Clock
	logger     *slog.Logger

	schedulerOpts []schedule.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// runCtx is the parent of every execution started by this engine.
	// Stop cancels it.
	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopping bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the backend for the execution log and triggers. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithTask binds a task identity to an invoker. Task identities without a
// binding are served by an HTTP invoker when the config names a URL and by
// the dry-run task otherwise.
func WithTask(name string, inv task.Invoker) Option {
	return func(eng *Engine) { eng.tasks.Register(name, inv) }
}

// WithDefinition registers an additional workflow definition that triggers
// and callers can start by name.
func WithDefinition(def *workflow.Definition) Option {
	return func(eng *Engine) { eng.defs.Register(def) }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithClock sets the clock for waits, retry delays and ticks.
func WithClock(c clockwork.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithSchedulerOptions passes extra options to the scheduler.
func WithSchedulerOptions(opts ...schedule.Option) Option {
	return func(eng *Engine) { eng.schedulerOpts = append(eng.schedulerOpts, opts...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from cfg. The image signer definition is built
// from cfg.Wait and cfg.Retry and registered under workflow.ImageSignerName.
func Build(cfg ingestion.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:    cfg,
		tasks:  task.NewRegistry(),
		defs:   workflow.NewRegistry(),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.store == nil {
		return nil, ingestion.ErrNoStore
	}

	policy := retryPolicy(cfg.Retry)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: retry: %w", ingestion.ErrInvalidConfig, err)
	}
	def, err := workflow.ImageSigner(cfg.Wait, policy)
	if err != nil {
		return nil, err
	}
	eng.defs.Register(def)

	eng.bindDefaultTasks()
	for _, name := range eng.defs.Names() {
		d, _ := eng.defs.Get(name)
		if err := eng.tasks.Require(d.Tasks()...); err != nil {
			return nil, fmt.Errorf("definition %q: %w", name, err)
		}
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.broker = stream.NewBroker(eng.logger, stream.WithClock(eng.clock))
	eng.extensions.Register(eng.broker)

	if cfg.Logging.Audit {
		eng.extensions.Register(audithook.New(
			audithook.SlogRecorder{Logger: eng.logger.With(slog.String("component", "audit"))},
			audithook.WithLogger(eng.logger),
		))
	}

	eng.runner = workflow.NewRunner(eng.tasks, eng.store,
		workflow.WithEmitter(eng.extensions),
		workflow.WithMiddleware(eng.middleware()...),
		workflow.WithClock(eng.clock),
		workflow.WithLogger(eng.logger),
	)

	schedOpts := []schedule.Option{
		schedule.WithEmitter(eng.extensions),
		schedule.WithClock(eng.clock),
		schedule.WithLogger(eng.logger),
	}
	eng.scheduler = schedule.NewScheduler(eng.store, eng, append(schedOpts, eng.schedulerOpts...)...)

	eng.runCtx, eng.runCancel = context.WithCancel(context.Background())
	return eng, nil
}

// middleware builds the default chain: recover → tracing → metrics →
// logging → rate limit → timeout, followed by user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	mws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	if eng.cfg.Tasks.RateLimit > 0 {
		burst := max(eng.cfg.Tasks.Burst, 1)
		mws = append(mws, mw.RateLimit(rate.NewLimiter(rate.Limit(eng.cfg.Tasks.RateLimit), burst)))
	}
	mws = append(mws, mw.Timeout(map[string]time.Duration{
		task.Pull: eng.cfg.Tasks.Pull.Timeout,
		task.Sign: eng.cfg.Tasks.Sign.Timeout,
	}))
	return append(mws, eng.mws...)
}

// bindDefaultTasks fills the pull and sign identities the caller left
// unbound.
func (eng *Engine) bindDefaultTasks() {
	endpoints := map[string]ingestion.TaskEndpoint{
		task.Pull: eng.cfg.Tasks.Pull,
		task.Sign: eng.cfg.Tasks.Sign,
	}
	for name, ep := range endpoints {
		if _, ok := eng.tasks.Get(name); ok {
			continue
		}
		if ep.URL != "" {
			eng.tasks.Register(name, httptask.New(name, ep.URL,
				httptask.WithTimeout(ep.Timeout),
				httptask.WithLogger(eng.logger),
			))
			continue
		}
		eng.logger.Warn("task has no endpoint, using dry run", slog.String("task", name))
		if name == task.Pull {
			eng.tasks.Register(name, dryrun.NewPuller(eng.cfg.Environment, eng.logger))
		} else {
			eng.tasks.Register(name, dryrun.NewSigner(eng.cfg.Environment, eng.logger))
		}
	}
}

func retryPolicy(c ingestion.RetryConfig) retry.Policy {
	return retry.Policy{
		Retryable:    c.Classes,
		MaxAttempts:  c.MaxAttempts,
		BaseInterval: c.BaseInterval,
		Multiplier:   c.Multiplier,
		MaxInterval:  c.MaxInterval,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start saves the configured trigger and starts the scheduler. Executions
// are started on their own goroutines and outlive ctx; Stop ends them.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}

	t, err := eng.DefaultTrigger()
	if err != nil {
		return err
	}
	if err := eng.store.SaveTrigger(ctx, t); err != nil {
		return fmt.Errorf("save trigger %q: %w", t.Name, err)
	}
	eng.logger.Info("trigger saved",
		slog.String("trigger", t.Name),
		slog.String("trigger_id", t.ID.String()),
		slog.String("expression", t.Expression),
		slog.String("time_zone", t.TimeZone),
		slog.Bool("enabled", t.Enabled),
	)

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	eng.started = true
	return nil
}

// Stop stops the scheduler, cancels running executions and waits for them
// to record their outcome. A task call in flight is allowed to finish;
// the execution then fails with class "canceled" at its next boundary.
func (eng *Engine) Stop(ctx context.Context) error {
	// No execution may join running once Wait below has begun.
	eng.mu.Lock()
	eng.stopping = true
	eng.mu.Unlock()

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}

	eng.runCancel()
	done := make(chan struct{})
	go func() {
		eng.running.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("engine: stop: %w", ctx.Err())
	}
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Wait blocks until every execution started so far has finished.
func (eng *Engine) Wait() {
	eng.running.Wait()
}

// DefaultTrigger returns the trigger described by the schedule config.
func (eng *Engine) DefaultTrigger() (*schedule.Trigger, error) {
	sc := eng.cfg.Schedule
	input := payload.Empty()
	if sc.Input != "" {
		v, err := payload.Parse([]byte(sc.Input))
		if err != nil {
			return nil, fmt.Errorf("%w: schedule input: %w", ingestion.ErrInvalidConfig, err)
		}
		input = v
	}
	t := &schedule.Trigger{
		Name:        sc.Name,
		Expression:  sc.Expression,
		TimeZone:    sc.TimeZone,
		Definition:  workflow.ImageSignerName,
		Input:       input,
		Enabled:     sc.Enabled,
		MaxAttempts: sc.MaxAttempts + 1,
		MaxEventAge: sc.MaxEventAge,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ingestion.ErrInvalidConfig, err)
	}
	return t, nil
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

// Launch implements schedule.Launcher: it starts an execution of the
// trigger's definition with the trigger's input.
func (eng *Engine) Launch(ctx context.Context, t *schedule.Trigger, tick time.Time) (id.ExecutionID, error) {
	exec, err := eng.start(ctx, t.Definition, t.Input, t.ID)
	if err != nil {
		return id.Nil, err
	}
	eng.logger.Debug("execution launched",
		slog.String("execution_id", exec.ID.String()),
		slog.String("trigger", t.Name),
		slog.Time("tick", tick),
	)
	return exec.ID, nil
}

// StartExecution creates an execution of the named definition and runs it
// in the background. It returns once the execution's first records are
// committed. The returned execution is a snapshot taken at that point; the
// live one belongs to its goroutine. After Stop it returns ErrEngineStopped.
func (eng *Engine) StartExecution(ctx context.Context, definition string, input payload.Value) (*workflow.Execution, error) {
	return eng.start(ctx, definition, input, id.Nil)
}

// RunOnce runs one execution of the named definition to completion on the
// caller's goroutine. Cancelling ctx fails the execution at its next
// boundary.
func (eng *Engine) RunOnce(ctx context.Context, definition string, input payload.Value) (*workflow.Execution, error) {
	def, err := eng.defs.Get(definition)
	if err != nil {
		return nil, err
	}
	return eng.runner.Execute(ctx, def, input, id.Nil)
}

func (eng *Engine) start(ctx context.Context, definition string, input payload.Value, trigger id.TriggerID) (*workflow.Execution, error) {
	def, err := eng.defs.Get(definition)
	if err != nil {
		return nil, err
	}

	eng.mu.Lock()
	if eng.stopping {
		eng.mu.Unlock()
		return nil, ingestion.ErrEngineStopped
	}
	eng.running.Add(1)
	eng.mu.Unlock()

	exec, err := eng.runner.Start(ctx, def, input, trigger)
	if err != nil {
		eng.running.Done()
		return nil, err
	}
	snap := exec.Snapshot()

	go func() {
		defer eng.running.Done()
		if err := eng.runner.Run(eng.runCtx, exec); err != nil {
			eng.logger.Error("execution halted",
				slog.String("execution_id", exec.ID.String()),
				slog.String("state", exec.Current),
				slog.String("error", err.Error()),
			)
		}
	}()
	return snap, nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Config returns the configuration the engine was built from.
func (eng *Engine) Config() ingestion.Config { return eng.cfg }

// Store returns the backend.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Stream returns the broker that fans lifecycle events out to live
// subscribers. It is closed when the engine stops.
func (eng *Engine) Stream() *stream.Broker { return eng.broker }

// Tasks returns the task registry.
func (eng *Engine) Tasks() *task.Registry { return eng.tasks }

// Definitions returns the workflow definition registry.
func (eng *Engine) Definitions() *workflow.Registry { return eng.defs }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Scheduler returns the scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

var _ schedule.Launcher = (*Engine)(nil)
