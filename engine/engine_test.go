package engine_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/engine"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/middleware"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/memory"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/stream"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task/dryrun"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task/httptask"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns the default config with no scan wait and no retry
// delay so executions finish immediately.
func testConfig() ingestion.Config {
	cfg := ingestion.DefaultConfig()
	cfg.Wait = 0
	cfg.Retry.BaseInterval = 0
	cfg.Schedule.TimeZone = "UTC"
	return cfg
}

func constant(out string) task.Func {
	return func(context.Context, payload.Value) (payload.Value, error) {
		return payload.MustParse(out), nil
	}
}

func build(t *testing.T, cfg ingestion.Config, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]engine.Option{
		engine.WithStore(s),
		engine.WithLogger(discardLogger()),
		engine.WithTask(task.Pull, constant(`{"count":3}`)),
		engine.WithTask(task.Sign, constant(`{"signed":3}`)),
	}, opts...)
	eng, err := engine.Build(cfg, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return eng, s
}

// finishedExt signals every terminal execution.
type finishedExt struct {
	succeeded chan *workflow.Execution
	failed    chan *workflow.Execution
}

func newFinishedExt() *finishedExt {
	return &finishedExt{
		succeeded: make(chan *workflow.Execution, 8),
		failed:    make(chan *workflow.Execution, 8),
	}
}

func (e *finishedExt) Name() string { return "finished" }

func (e *finishedExt) OnExecutionSucceeded(_ context.Context, exec *workflow.Execution, _ time.Duration) error {
	e.succeeded <- exec
	return nil
}

func (e *finishedExt) OnExecutionFailed(_ context.Context, exec *workflow.Execution, _ error) error {
	e.failed <- exec
	return nil
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for execution")
		var zero T
		return zero
	}
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, waiters); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", waiters, err)
	}
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	_, err := engine.Build(testConfig(), engine.WithLogger(discardLogger()))
	if !errors.Is(err, ingestion.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ingestion.Config)
	}{
		{"no expression", func(c *ingestion.Config) { c.Schedule.Expression = "" }},
		{"zero retry attempts", func(c *ingestion.Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown driver", func(c *ingestion.Config) { c.Store.Driver = "cassandra" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := engine.Build(cfg, engine.WithStore(memory.New()), engine.WithLogger(discardLogger()))
			if !errors.Is(err, ingestion.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestBuild_DefaultTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.Sign.URL = "http://signer.internal/invoke"

	eng, err := engine.Build(cfg, engine.WithStore(memory.New()), engine.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	pull, ok := eng.Tasks().Get(task.Pull)
	if !ok {
		t.Fatal("pull task not bound")
	}
	if _, ok := pull.(*dryrun.Puller); !ok {
		t.Errorf("pull without URL: want *dryrun.Puller, got %T", pull)
	}
	sign, ok := eng.Tasks().Get(task.Sign)
	if !ok {
		t.Fatal("sign task not bound")
	}
	if _, ok := sign.(*httptask.Invoker); !ok {
		t.Errorf("sign with URL: want *httptask.Invoker, got %T", sign)
	}
}

func TestBuild_RegistersImageSigner(t *testing.T) {
	eng, _ := build(t, testConfig())
	def, err := eng.Definitions().Get(workflow.ImageSignerName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.StartAt() != workflow.StatePull {
		t.Errorf("StartAt = %q, want %q", def.StartAt(), workflow.StatePull)
	}
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

func TestEngine_RunOnce_EndToEnd(t *testing.T) {
	eng, s := build(t, testConfig())

	exec, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if exec.Status != workflow.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded (error %q)", exec.Status, exec.Error)
	}
	if !exec.Payload.Equal(payload.MustParse(`{"signed":3}`)) {
		t.Errorf("payload = %s, want {\"signed\":3}", exec.Payload)
	}

	records, err := s.Query(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	attempts := execlog.Attempts(records)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempt records, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != execlog.OutcomeSuccess || a.Number != 1 {
			t.Errorf("attempt %+v: want first-try success", a)
		}
	}
}

func TestEngine_StartExecution_RunsInBackground(t *testing.T) {
	fin := newFinishedExt()
	eng, s := build(t, testConfig(), engine.WithExtension(fin))

	exec, err := eng.StartExecution(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	done := receive(t, fin.succeeded)
	if done.ID != exec.ID {
		t.Fatalf("succeeded %s, want %s", done.ID, exec.ID)
	}
	eng.Wait()

	sum, err := s.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Status != execlog.StatusSucceeded {
		t.Errorf("summary status = %q, want succeeded", sum.Status)
	}
}

func TestEngine_StartExecution_UnknownDefinition(t *testing.T) {
	eng, _ := build(t, testConfig())
	_, err := eng.StartExecution(context.Background(), "nope", payload.Empty())
	if !errors.Is(err, ingestion.ErrUnknownDefinition) {
		t.Fatalf("expected ErrUnknownDefinition, got %v", err)
	}
}

func TestEngine_StartExecution_ReturnsSnapshot(t *testing.T) {
	release := make(chan struct{})
	gated := task.Func(func(ctx context.Context, _ payload.Value) (payload.Value, error) {
		<-release
		return payload.MustParse(`{"count":3}`), nil
	})
	eng, s := build(t, testConfig(), engine.WithTask(task.Pull, gated))

	exec, err := eng.StartExecution(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	close(release)

	// Reading the returned execution while it runs must not race with the
	// runner, and what it shows is frozen at start.
	for range 100 {
		if exec.Status != execlog.StatusRunning || exec.Current != workflow.StatePull || exec.FinishedAt != nil {
			t.Fatalf("snapshot changed: %s in %s", exec.Status, exec.Current)
		}
	}
	eng.Wait()

	if exec.Status != execlog.StatusRunning || exec.Attempts(workflow.StatePull) != 0 {
		t.Errorf("snapshot = %s with %d attempts, want running with 0", exec.Status, exec.Attempts(workflow.StatePull))
	}
	sum, err := s.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Status != execlog.StatusSucceeded {
		t.Errorf("summary status = %q, want succeeded", sum.Status)
	}
}

func TestEngine_StartExecution_RefusedAfterStop(t *testing.T) {
	eng, s := build(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, err := eng.StartExecution(context.Background(), workflow.ImageSignerName, payload.Empty())
	if !errors.Is(err, ingestion.ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
	if _, err := eng.Launch(context.Background(), &schedule.Trigger{Definition: workflow.ImageSignerName}, time.Now()); !errors.Is(err, ingestion.ErrEngineStopped) {
		t.Fatalf("Launch after Stop = %v, want ErrEngineStopped", err)
	}
	list, err := s.ListExecutions(context.Background(), execlog.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("%d executions were created after Stop", len(list))
	}
}

func TestEngine_RetriesThroughConfiguredPolicy(t *testing.T) {
	var calls atomic.Int32
	flaky := task.Func(func(context.Context, payload.Value) (payload.Value, error) {
		if calls.Add(1) < 3 {
			return payload.Value{}, task.Errorf(task.ClassThrottled, "rate exceeded")
		}
		return payload.MustParse(`{"count":1}`), nil
	})
	eng, s := build(t, testConfig(), engine.WithTask(task.Pull, flaky))

	exec, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if exec.Status != workflow.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", exec.Status)
	}
	records, _ := s.Query(context.Background(), exec.ID)
	var pulls int
	for _, a := range execlog.Attempts(records) {
		if a.State == workflow.StatePull {
			pulls++
		}
	}
	if pulls != 3 {
		t.Errorf("pull attempts = %d, want 3", pulls)
	}
}

func TestEngine_UserMiddlewareRuns(t *testing.T) {
	var seen atomic.Int32
	count := func(ctx context.Context, _ *task.Call, next middleware.Handler) error {
		seen.Add(1)
		return next(ctx)
	}
	eng, _ := build(t, testConfig(), engine.WithMiddleware(count))

	if _, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := seen.Load(); got != 2 {
		t.Errorf("middleware saw %d calls, want 2", got)
	}
}

func TestEngine_StopCancelsWaitingExecution(t *testing.T) {
	cfg := testConfig()
	cfg.Wait = 720 * time.Second
	clock := clockwork.NewFakeClock()
	fin := newFinishedExt()
	s := memory.New()
	eng, err := engine.Build(cfg,
		engine.WithStore(s),
		engine.WithLogger(discardLogger()),
		engine.WithClock(clock),
		engine.WithExtension(fin),
		engine.WithTask(task.Pull, constant(`{"count":3}`)),
		engine.WithTask(task.Sign, constant(`{"signed":3}`)),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	exec, err := eng.StartExecution(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	// The execution is parked in the scan wait.
	blockUntil(t, clock, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	failed := receive(t, fin.failed)
	if failed.ID != exec.ID {
		t.Fatalf("failed %s, want %s", failed.ID, exec.ID)
	}
	sum, err := s.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Status != execlog.StatusFailed || sum.ErrorClass != task.ClassCanceled {
		t.Errorf("summary = %s/%s, want failed/canceled", sum.Status, sum.ErrorClass)
	}
	if sum.CurrentState != workflow.StateScanWait {
		t.Errorf("current state = %q, want %q", sum.CurrentState, workflow.StateScanWait)
	}
}

// ──────────────────────────────────────────────────
// Scheduling
// ──────────────────────────────────────────────────

func TestEngine_StartSavesConfiguredTrigger(t *testing.T) {
	eng, s := build(t, testConfig())
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	triggers, err := s.ListTriggers(context.Background())
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	tr := triggers[0]
	if tr.Name != "image-signer-daily" || tr.Definition != workflow.ImageSignerName {
		t.Errorf("trigger = %s/%s", tr.Name, tr.Definition)
	}
	// 185 retries after the first try.
	if tr.MaxAttempts != 186 {
		t.Errorf("MaxAttempts = %d, want 186", tr.MaxAttempts)
	}
	if tr.MaxEventAge != 24*time.Hour {
		t.Errorf("MaxEventAge = %v, want 24h", tr.MaxEventAge)
	}

	// Starting twice keeps one trigger.
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	triggers, _ = s.ListTriggers(context.Background())
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger after restart, got %d", len(triggers))
	}
}

func TestEngine_DefaultTrigger_BadInput(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Input = "{not json"
	eng, _ := build(t, cfg)
	if _, err := eng.DefaultTrigger(); !errors.Is(err, ingestion.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEngine_TickLaunchesExecution(t *testing.T) {
	cfg := testConfig()
	// 08:59 UTC, one minute before the daily tick.
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 59, 0, 0, time.UTC))
	fin := newFinishedExt()
	eng, s := build(t, cfg,
		engine.WithClock(clock),
		engine.WithExtension(fin),
		engine.WithSchedulerOptions(schedule.WithPollInterval(time.Hour)),
	)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	blockUntil(t, clock, 1)
	clock.Advance(time.Minute)

	exec := receive(t, fin.succeeded)
	if exec.Trigger.IsNil() {
		t.Fatal("scheduled execution should reference its trigger")
	}
	sum, err := s.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Trigger != exec.Trigger {
		t.Errorf("summary trigger = %s, want %s", sum.Trigger, exec.Trigger)
	}
}

// ──────────────────────────────────────────────────
// Telemetry
// ──────────────────────────────────────────────────

func TestEngine_CustomProviders(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	eng, _ := build(t, testConfig(), engine.WithMeterProvider(mp), engine.WithTracerProvider(tp))
	if _, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if got := len(exporter.GetSpans()); got != 2 {
		t.Errorf("expected 2 task spans, got %d", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{
		"imagesigner.execution.started",
		"imagesigner.execution.succeeded",
		"imagesigner.attempt.recorded",
		"imagesigner.task.duration",
	} {
		if !names[want] {
			t.Errorf("metric %q not recorded; have %v", want, names)
		}
	}
}

func TestEngine_StreamsLifecycleEvents(t *testing.T) {
	eng, _ := build(t, testConfig())
	sub := eng.Stream().Subscribe("test", stream.TopicExecutions)

	exec, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := []stream.EventType{
		stream.EventExecutionStarted,
		stream.EventAttemptRecorded,
		stream.EventAttemptRecorded,
		stream.EventExecutionSucceeded,
	}
	for i, typ := range want {
		evt := receive(t, sub.C())
		if evt.Type != typ {
			t.Fatalf("event %d = %s, want %s", i, evt.Type, typ)
		}
		if evt.Topic != stream.ExecutionTopic(exec.ID.String()) {
			t.Errorf("event %d topic = %q", i, evt.Topic)
		}
	}
}

func TestEngine_StopClosesStreams(t *testing.T) {
	eng, _ := build(t, testConfig())
	sub := eng.Stream().Subscribe("test", stream.TopicFirehose)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected the subscription to be closed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription still open after Stop")
	}
}

func TestEngine_AuditTrail(t *testing.T) {
	tests := []struct {
		name  string
		audit bool
		want  int
	}{
		{"enabled", true, 4},
		{"disabled", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := testConfig()
			cfg.Logging.Audit = tt.audit
			eng, _ := build(t, cfg, engine.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

			if _, err := eng.RunOnce(context.Background(), workflow.ImageSignerName, payload.Empty()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			// started, two attempts, succeeded
			if got := strings.Count(buf.String(), `"msg":"audit"`); got != tt.want {
				t.Errorf("audit records = %d, want %d\n%s", got, tt.want, buf.String())
			}
		})
	}
}
