package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/memory"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

var epoch = time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted is an invoker that replays a list of results, then repeats the
// last one. It records every input it sees.
type scripted struct {
	mu      sync.Mutex
	results []result
	inputs  []payload.Value
}

type result struct {
	out string
	err error
}

func returns(out string) result { return result{out: out} }
func fails(err error) result    { return result{err: err} }

func failsWith(class string) result {
	return result{err: task.Errorf(class, "induced %s", class)}
}

func script(results ...result) *scripted {
	return &scripted{results: results}
}

func (s *scripted) Invoke(_ context.Context, in payload.Value) (payload.Value, error) {
	s.mu.Lock()
	n := len(s.inputs)
	s.inputs = append(s.inputs, in)
	r := s.results[min(n, len(s.results)-1)]
	s.mu.Unlock()

	if r.err != nil {
		return payload.Value{}, r.err
	}
	return payload.MustParse(r.out), nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func (s *scripted) Input(i int) payload.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[i]
}

// countValidator is a sign task that requires an integer "count" field.
type countValidator struct {
	*scripted
}

func (countValidator) ValidateInput(in payload.Value) error {
	var v struct {
		Count *int `json:"count"`
	}
	if err := in.Unmarshal(&v); err != nil {
		return err
	}
	if v.Count == nil {
		return errors.New("count is required")
	}
	return nil
}

type harness struct {
	runner *workflow.Runner
	store  *memory.Store
	clock  *clockwork.FakeClock
	def    *workflow.Definition
	pull   *scripted
	sign   *scripted
}

// newHarness builds the image signer workflow over scripted tasks, a
// memory store and a fake clock.
func newHarness(t *testing.T, pull, sign *scripted, opts ...workflow.Option) *harness {
	t.Helper()
	return newHarnessWithSign(t, pull, sign, sign, opts...)
}

func newHarnessWithSign(t *testing.T, pull, sign *scripted, signInv task.Invoker, opts ...workflow.Option) *harness {
	t.Helper()
	def, err := workflow.ImageSigner(720*time.Second, retry.DefaultPolicy())
	if err != nil {
		t.Fatalf("ImageSigner: %v", err)
	}

	tasks := task.NewRegistry()
	tasks.Register(task.Pull, pull)
	tasks.Register(task.Sign, signInv)

	s := memory.New()
	clock := clockwork.NewFakeClockAt(epoch)
	opts = append([]workflow.Option{
		workflow.WithClock(clock),
		workflow.WithLogger(discardLogger()),
	}, opts...)

	return &harness{
		runner: workflow.NewRunner(tasks, s, opts...),
		store:  s,
		clock:  clock,
		def:    def,
		pull:   pull,
		sign:   sign,
	}
}

// execute runs one execution to completion, advancing the fake clock
// through every wait and retry delay.
func (h *harness) execute(ctx context.Context, t *testing.T, input string) *workflow.Execution {
	t.Helper()

	type outcome struct {
		exec *workflow.Execution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := h.runner.Execute(ctx, h.def, payload.MustParse(input), id.Nil)
		done <- outcome{exec, err}
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case o := <-done:
			if o.err != nil {
				t.Fatalf("Execute: %v", o.err)
			}
			return o.exec
		case <-deadline:
			t.Fatal("execution did not finish")
		default:
		}

		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		if h.clock.BlockUntilContext(wctx, 1) == nil {
			h.clock.Advance(time.Hour)
		}
		cancel()
	}
}

func (h *harness) records(t *testing.T, exec *workflow.Execution) []*execlog.Record {
	t.Helper()
	records, err := h.store.Query(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return records
}

func attemptsOf(records []*execlog.Record, state string) []execlog.Attempt {
	var out []execlog.Attempt
	for _, a := range execlog.Attempts(records) {
		if a.State == state {
			out = append(out, a)
		}
	}
	return out
}

// flakyStore fails every Append after the first `healthy` calls.
type flakyStore struct {
	*memory.Store
	mu      sync.Mutex
	healthy int
	calls   int
}

var errStoreDown = errors.New("store unavailable")

func (f *flakyStore) Append(ctx context.Context, r *execlog.Record) error {
	f.mu.Lock()
	f.calls++
	broken := f.calls > f.healthy
	f.mu.Unlock()
	if broken {
		return errStoreDown
	}
	return f.Store.Append(ctx, r)
}

// lostAckStore commits the record written by Append call number `lose`,
// then reports errStoreDown for it as if the ack never arrived.
type lostAckStore struct {
	*memory.Store
	mu    sync.Mutex
	lose  int
	calls int
}

func (l *lostAckStore) Append(ctx context.Context, r *execlog.Record) error {
	l.mu.Lock()
	l.calls++
	lost := l.calls == l.lose
	l.mu.Unlock()
	if err := l.Store.Append(ctx, r); err != nil {
		return err
	}
	if lost {
		return errStoreDown
	}
	return nil
}

// stolenSeqStore fails the first Append without committing it and lets
// another writer take that sequence number first.
type stolenSeqStore struct {
	*memory.Store
	mu     sync.Mutex
	stolen bool
}

func (s *stolenSeqStore) Append(ctx context.Context, r *execlog.Record) error {
	s.mu.Lock()
	steal := !s.stolen
	s.stolen = true
	s.mu.Unlock()
	if steal {
		other := *r
		other.ID = id.NewRecordID()
		if err := s.Store.Append(ctx, &other); err != nil {
			return err
		}
		return errStoreDown
	}
	return s.Store.Append(ctx, r)
}
