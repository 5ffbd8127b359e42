package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	cronlib "github.com/robfig/cron/v3"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/backoff"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

// Launcher creates an execution for one tick and hands it off to run
// asynchronously. It must return as soon as the execution exists.
// The engine provides the implementation.
type Launcher interface {
	Launch(ctx context.Context, t *Trigger, tick time.Time) (id.ExecutionID, error)
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, t *Trigger, tick time.Time) (id.ExecutionID, error)

// Launch calls f.
func (f LaunchFunc) Launch(ctx context.Context, t *Trigger, tick time.Time) (id.ExecutionID, error) {
	return f(ctx, t, tick)
}

// Emitter receives tick events. ext.Registry satisfies it.
type Emitter interface {
	EmitTickFired(ctx context.Context, t *Trigger, tick time.Time, executionID id.ExecutionID)
	EmitTickDropped(ctx context.Context, t *Trigger, tick time.Time, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitTickFired(context.Context, *Trigger, time.Time, id.ExecutionID) {}
func (nopEmitter) EmitTickDropped(context.Context, *Trigger, time.Time, error)        {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEmitter sets the tick event receiver.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock sets the clock ticks are computed and awaited on.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollInterval sets how often the trigger list is reloaded while no
// tick is due, so that triggers enabled or added at runtime are noticed.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithBackoff sets the delay strategy between execution creation attempts.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.backoff = b }
}

// Scheduler fires triggers. It only creates executions; it never touches
// their state afterwards, and ticks missed while it was not running are
// not replayed.
type Scheduler struct {
	store    Store
	launcher Launcher
	emitter  Emitter
	clock    clockwork.Clock
	logger   *slog.Logger
	backoff  backoff.Strategy

	pollInterval time.Duration

	// parsed caches schedules by time zone and expression.
	parsedMu sync.Mutex
	parsed   map[string]cronlib.Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler that reads triggers from store and
// creates executions through launcher.
func NewScheduler(store Store, launcher Launcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		launcher:     launcher,
		emitter:      nopEmitter{},
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		backoff:      backoff.DefaultStrategy(),
		pollInterval: 30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", slog.Duration("poll_interval", s.pollInterval))
	return nil
}

// Stop ends the tick loop and abandons creation retries still pending.
// Executions already created keep running.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule: stop: %w", ctx.Err())
	}
}

// Next returns the first tick of t strictly after from.
func (s *Scheduler) Next(t *Trigger, from time.Time) (time.Time, error) {
	sched, err := s.schedule(t)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// next holds the upcoming tick per enabled trigger.
	next := make(map[id.TriggerID]time.Time)
	for {
		wait := s.tick(ctx, next)

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// tick fires every trigger whose upcoming tick has passed, schedules the
// following one and returns how long to sleep.
func (s *Scheduler) tick(ctx context.Context, next map[id.TriggerID]time.Time) time.Duration {
	now := s.clock.Now()
	wait := s.pollInterval

	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("list triggers failed", slog.String("error", err.Error()))
		return wait
	}

	active := make(map[id.TriggerID]bool, len(triggers))
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		sched, err := s.schedule(t)
		if err != nil {
			s.logger.Error("trigger has invalid expression",
				slog.String("trigger", t.Name),
				slog.String("expression", t.Expression),
				slog.String("error", err.Error()),
			)
			continue
		}
		active[t.ID] = true

		at, ok := next[t.ID]
		if !ok {
			at = sched.Next(now)
			if at.IsZero() {
				s.logger.Warn("trigger expression never fires",
					slog.String("trigger", t.Name),
					slog.String("expression", t.Expression),
				)
			}
		}
		// The zero time means no further tick.
		if at.IsZero() {
			next[t.ID] = at
			continue
		}
		if !at.After(now) {
			s.wg.Add(1)
			go s.fire(ctx, t, at)
			// Ticks passed while the loop was not running are skipped.
			at = sched.Next(now)
		}
		next[t.ID] = at
		if at.IsZero() {
			continue
		}

		if d := at.Sub(now); d < wait {
			wait = d
		}
	}

	// Disabled or deleted triggers start fresh when they come back.
	for tid := range next {
		if !active[tid] {
			delete(next, tid)
		}
	}
	return wait
}

// fire claims tick and creates its execution, retrying creation failures
// within the trigger's budget.
func (s *Scheduler) fire(ctx context.Context, t *Trigger, tick time.Time) {
	defer s.wg.Done()

	if err := s.store.ClaimTick(ctx, t.ID, tick); err != nil {
		if errors.Is(err, ingestion.ErrTickClaimed) {
			s.logger.Debug("tick claimed elsewhere",
				slog.String("trigger", t.Name),
				slog.Time("tick", tick),
			)
			return
		}
		s.drop(ctx, t, tick, fmt.Errorf("claim tick: %w", err))
		return
	}

	for attempt := 1; ; attempt++ {
		execID, err := s.launcher.Launch(ctx, t, tick)
		if err == nil {
			s.logger.Info("trigger fired",
				slog.String("trigger", t.Name),
				slog.String("definition", t.Definition),
				slog.Time("tick", tick),
				slog.String("execution_id", execID.String()),
				slog.Int("attempt", attempt),
			)
			s.emitter.EmitTickFired(ctx, t, tick, execID)
			return
		}

		if attempt >= t.attempts() {
			s.drop(ctx, t, tick, fmt.Errorf("create execution: %d attempts: %w", attempt, err))
			return
		}
		delay := s.backoff.Delay(attempt)
		if t.MaxEventAge > 0 && s.clock.Since(tick)+delay > t.MaxEventAge {
			s.drop(ctx, t, tick, fmt.Errorf("create execution: max event age %v reached: %w", t.MaxEventAge, err))
			return
		}

		s.logger.Warn("create execution failed, retrying",
			slog.String("trigger", t.Name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.drop(ctx, t, tick, fmt.Errorf("create execution: %w", ctx.Err()))
			return
		case <-timer.Chan():
		}
	}
}

func (s *Scheduler) drop(ctx context.Context, t *Trigger, tick time.Time, err error) {
	s.logger.Error("tick dropped",
		slog.String("trigger", t.Name),
		slog.Time("tick", tick),
		slog.String("error", err.Error()),
	)
	s.emitter.EmitTickDropped(ctx, t, tick, err)
}

// schedule caches parsed expressions.
func (s *Scheduler) schedule(t *Trigger) (cronlib.Schedule, error) {
	key := t.TimeZone + "|" + t.Expression

	s.parsedMu.Lock()
	defer s.parsedMu.Unlock()
	if sched, ok := s.parsed[key]; ok {
		return sched, nil
	}
	sched, err := ParseExpression(t.Expression, t.TimeZone)
	if err != nil {
		return nil, err
	}
	s.parsed[key] = sched
	return sched, nil
}
