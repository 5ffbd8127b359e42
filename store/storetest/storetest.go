// Package storetest is a conformance suite for store.Store backends. Each
// backend's tests call Run with a constructor for a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store"
)

// Factory returns an empty, migrated store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// base is whole seconds so every backend round-trips it exactly.
var base = time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)

// Run exercises every store.Store operation against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Ping", testPing},
		{"AppendAndQuery", testAppendAndQuery},
		{"AppendRejectsDuplicateSeq", testAppendRejectsDuplicateSeq},
		{"AppendRejectsGap", testAppendRejectsGap},
		{"AppendRequiresStartedFirst", testAppendRequiresStartedFirst},
		{"QueryNotFound", testQueryNotFound},
		{"GetExecutionFoldsSummary", testGetExecutionFoldsSummary},
		{"ListExecutions", testListExecutions},
		{"AppendConcurrentExecutions", testAppendConcurrentExecutions},
		{"SaveTriggerUpsertsByName", testSaveTriggerUpsertsByName},
		{"ListTriggersSortedByName", testListTriggersSortedByName},
		{"SetTriggerEnabled", testSetTriggerEnabled},
		{"GetTriggerNotFound", testGetTriggerNotFound},
		{"ClaimTickAtMostOnce", testClaimTickAtMostOnce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// Record builds a record of kind for the image-signer definition.
func Record(execID id.ExecutionID, seq int64, kind execlog.Kind, at time.Time) *execlog.Record {
	return &execlog.Record{
		ID:          id.NewRecordID(),
		ExecutionID: execID,
		Seq:         seq,
		Kind:        kind,
		Definition:  "image-signer",
		State:       "invoke-pull",
		Payload:     payload.Empty(),
		At:          at,
	}
}

// Append appends records in order, failing t on the first error.
func Append(t *testing.T, s execlog.Store, records ...*execlog.Record) {
	t.Helper()
	for _, r := range records {
		if err := s.Append(context.Background(), r); err != nil {
			t.Fatalf("Append(%s seq %d): %v", r.ExecutionID, r.Seq, err)
		}
	}
}

// Trigger builds an enabled daily trigger.
func Trigger(name string) *schedule.Trigger {
	return &schedule.Trigger{
		Name:        name,
		Expression:  "cron(0 9 * * ? *)",
		TimeZone:    "America/Los_Angeles",
		Definition:  "image-signer",
		Input:       payload.MustParse(`{"source":"schedule"}`),
		Enabled:     true,
		MaxAttempts: 185,
		MaxEventAge: 24 * time.Hour,
	}
}

// ──────────────────────────────────────────────────
// Execution log
// ──────────────────────────────────────────────────

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testAppendAndQuery(t *testing.T, s store.Store) {
	execID := id.NewExecutionID()

	attempt := Record(execID, 3, execlog.KindAttempt, base.Add(time.Second))
	attempt.Task = "pull"
	attempt.Attempt = 2
	attempt.Outcome = execlog.OutcomeError
	attempt.ErrorClass = "throttled"
	attempt.Error = "rate exceeded"
	attempt.Delay = 2 * time.Second
	attempt.Payload = payload.MustParse(`{"images":["nginx:latest"]}`)

	Append(t, s,
		Record(execID, 1, execlog.KindExecutionStarted, base),
		Record(execID, 2, execlog.KindStateEntered, base),
		attempt,
	)

	records, err := s.Query(context.Background(), execID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Seq != int64(i+1) {
			t.Errorf("records[%d].Seq = %d, want %d", i, r.Seq, i+1)
		}
		if r.ExecutionID.String() != execID.String() {
			t.Errorf("records[%d].ExecutionID = %s, want %s", i, r.ExecutionID, execID)
		}
	}

	got := records[2]
	if got.ID.String() != attempt.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, attempt.ID)
	}
	if got.Kind != execlog.KindAttempt || got.Task != "pull" || got.Attempt != 2 {
		t.Errorf("attempt fields = %q/%q/%d, want attempt/pull/2", got.Kind, got.Task, got.Attempt)
	}
	if got.Outcome != execlog.OutcomeError || got.ErrorClass != "throttled" || got.Error != "rate exceeded" {
		t.Errorf("failure fields = %q/%q/%q", got.Outcome, got.ErrorClass, got.Error)
	}
	if got.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", got.Delay)
	}
	if !got.Payload.Equal(attempt.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, attempt.Payload)
	}
	if !got.At.Equal(attempt.At) {
		t.Errorf("At = %v, want %v", got.At, attempt.At)
	}
}

func testAppendRejectsDuplicateSeq(t *testing.T, s store.Store) {
	execID := id.NewExecutionID()
	Append(t, s,
		Record(execID, 1, execlog.KindExecutionStarted, base),
		Record(execID, 2, execlog.KindStateEntered, base),
	)

	for _, seq := range []int64{1, 2} {
		err := s.Append(context.Background(), Record(execID, seq, execlog.KindStateEntered, base))
		if !errors.Is(err, ingestion.ErrDuplicateRecord) {
			t.Errorf("seq %d: expected ErrDuplicateRecord, got %v", seq, err)
		}
	}

	records, err := s.Query(context.Background(), execID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("rejected appends changed the log: %d records", len(records))
	}
}

func testAppendRejectsGap(t *testing.T, s store.Store) {
	execID := id.NewExecutionID()
	Append(t, s, Record(execID, 1, execlog.KindExecutionStarted, base))

	err := s.Append(context.Background(), Record(execID, 3, execlog.KindStateEntered, base))
	if err == nil {
		t.Fatal("expected error for seq gap")
	}
	if errors.Is(err, ingestion.ErrDuplicateRecord) {
		t.Fatalf("gap should not be reported as duplicate: %v", err)
	}
}

func testAppendRequiresStartedFirst(t *testing.T, s store.Store) {
	err := s.Append(context.Background(), Record(id.NewExecutionID(), 1, execlog.KindStateEntered, base))
	if !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func testQueryNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Query(ctx, id.NewExecutionID()); !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Errorf("Query: expected ErrExecutionNotFound, got %v", err)
	}
	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Errorf("GetExecution: expected ErrExecutionNotFound, got %v", err)
	}
}

func testGetExecutionFoldsSummary(t *testing.T, s store.Store) {
	execID := id.NewExecutionID()
	trigID := id.NewTriggerID()

	started := Record(execID, 1, execlog.KindExecutionStarted, base)
	started.Trigger = trigID
	attempt := Record(execID, 3, execlog.KindAttempt, base.Add(time.Second))
	attempt.Attempt = 1
	attempt.Outcome = execlog.OutcomeError
	failed := Record(execID, 4, execlog.KindExecutionFailed, base.Add(2*time.Second))
	failed.ErrorClass = "client-error"
	failed.Error = "repository not found"

	Append(t, s, started, Record(execID, 2, execlog.KindStateEntered, base), attempt, failed)

	sum, err := s.GetExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.ID.String() != execID.String() {
		t.Errorf("ID = %s, want %s", sum.ID, execID)
	}
	if sum.Trigger.String() != trigID.String() {
		t.Errorf("Trigger = %s, want %s", sum.Trigger, trigID)
	}
	if sum.Status != execlog.StatusFailed {
		t.Errorf("Status = %q, want %q", sum.Status, execlog.StatusFailed)
	}
	if sum.Attempts != 1 || sum.LastSeq != 4 {
		t.Errorf("Attempts/LastSeq = %d/%d, want 1/4", sum.Attempts, sum.LastSeq)
	}
	if sum.ErrorClass != "client-error" || sum.Error != "repository not found" {
		t.Errorf("error = %q/%q", sum.ErrorClass, sum.Error)
	}
	if !sum.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", sum.StartedAt, base)
	}
	if sum.FinishedAt == nil || !sum.FinishedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("FinishedAt = %v, want %v", sum.FinishedAt, base.Add(2*time.Second))
	}

	records, err := s.Query(context.Background(), execID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	folded, err := execlog.Summarize(records)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if folded.Status != sum.Status || folded.LastSeq != sum.LastSeq || folded.Attempts != sum.Attempts {
		t.Errorf("stored summary %+v disagrees with folded log %+v", sum, folded)
	}
}

func testListExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := make([]id.ExecutionID, 3)
	for i := range ids {
		ids[i] = id.NewExecutionID()
		Append(t, s, Record(ids[i], 1, execlog.KindExecutionStarted, base.Add(time.Duration(i)*time.Hour)))
	}
	done := Record(ids[0], 2, execlog.KindExecutionSucceeded, base.Add(time.Minute))
	done.State = "done"
	Append(t, s, done)

	all, err := s.ListExecutions(ctx, execlog.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(all))
	}
	for i, want := range []id.ExecutionID{ids[2], ids[1], ids[0]} {
		if all[i].ID.String() != want.String() {
			t.Errorf("all[%d] = %s, want %s (newest first)", i, all[i].ID, want)
		}
	}

	tests := []struct {
		name string
		opts execlog.ListOpts
		want []id.ExecutionID
	}{
		{"running", execlog.ListOpts{Status: execlog.StatusRunning}, []id.ExecutionID{ids[2], ids[1]}},
		{"succeeded", execlog.ListOpts{Status: execlog.StatusSucceeded}, []id.ExecutionID{ids[0]}},
		{"limit", execlog.ListOpts{Limit: 1}, []id.ExecutionID{ids[2]}},
		{"offset", execlog.ListOpts{Offset: 1, Limit: 1}, []id.ExecutionID{ids[1]}},
		{"past end", execlog.ListOpts{Offset: 5}, nil},
		{"other definition", execlog.ListOpts{Definition: "other"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListExecutions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d executions, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID.String() != tt.want[i].String() {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func testAppendConcurrentExecutions(t *testing.T, s store.Store) {
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	ids := make([]id.ExecutionID, n)

	for i := range n {
		ids[i] = id.NewExecutionID()
		wg.Add(1)
		go func(execID id.ExecutionID) {
			defer wg.Done()
			for seq := int64(1); seq <= 5; seq++ {
				kind := execlog.KindStateEntered
				if seq == 1 {
					kind = execlog.KindExecutionStarted
				}
				if err := s.Append(context.Background(), Record(execID, seq, kind, base)); err != nil {
					errs <- err
					return
				}
			}
		}(ids[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	for _, execID := range ids {
		sum, err := s.GetExecution(context.Background(), execID)
		if err != nil {
			t.Fatalf("GetExecution(%s): %v", execID, err)
		}
		if sum.LastSeq != 5 {
			t.Errorf("%s: LastSeq = %d, want 5", execID, sum.LastSeq)
		}
	}
}

// ──────────────────────────────────────────────────
// Triggers
// ──────────────────────────────────────────────────

func testSaveTriggerUpsertsByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := Trigger("daily")
	if err := s.SaveTrigger(ctx, first); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}
	if first.ID.IsNil() {
		t.Fatal("SaveTrigger did not assign an ID")
	}

	second := Trigger("daily")
	second.Expression = "rate(1 hour)"
	second.Enabled = false
	if err := s.SaveTrigger(ctx, second); err != nil {
		t.Fatalf("SaveTrigger (upsert): %v", err)
	}
	if second.ID.String() != first.ID.String() {
		t.Fatalf("upsert changed ID: %s -> %s", first.ID, second.ID)
	}

	got, err := s.GetTrigger(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Expression != "rate(1 hour)" || got.Enabled {
		t.Errorf("expected replaced trigger, got expression %q enabled %v", got.Expression, got.Enabled)
	}
	if got.TimeZone != "America/Los_Angeles" || got.MaxAttempts != 185 || got.MaxEventAge != 24*time.Hour {
		t.Errorf("fields not round-tripped: %+v", got)
	}
	if !got.Input.Equal(payload.MustParse(`{"source":"schedule"}`)) {
		t.Errorf("Input = %s", got.Input)
	}
	if d := got.CreatedAt.Sub(first.CreatedAt).Abs(); d > time.Millisecond {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, first.CreatedAt)
	}
}

func testListTriggersSortedByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, name := range []string{"weekly", "daily", "hourly"} {
		if err := s.SaveTrigger(ctx, Trigger(name)); err != nil {
			t.Fatalf("SaveTrigger(%s): %v", name, err)
		}
	}

	got, err := s.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	want := []string{"daily", "hourly", "weekly"}
	if len(got) != len(want) {
		t.Fatalf("expected %d triggers, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Name, want[i])
		}
	}
}

func testSetTriggerEnabled(t *testing.T, s store.Store) {
	ctx := context.Background()
	trig := Trigger("daily")
	if err := s.SaveTrigger(ctx, trig); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}

	if err := s.SetTriggerEnabled(ctx, trig.ID, false); err != nil {
		t.Fatalf("SetTriggerEnabled: %v", err)
	}
	got, err := s.GetTrigger(ctx, trig.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Enabled {
		t.Error("expected trigger to be disabled")
	}

	if err := s.SetTriggerEnabled(ctx, id.NewTriggerID(), true); !errors.Is(err, ingestion.ErrTriggerNotFound) {
		t.Errorf("unknown trigger: expected ErrTriggerNotFound, got %v", err)
	}
}

func testGetTriggerNotFound(t *testing.T, s store.Store) {
	if _, err := s.GetTrigger(context.Background(), id.NewTriggerID()); !errors.Is(err, ingestion.ErrTriggerNotFound) {
		t.Fatalf("expected ErrTriggerNotFound, got %v", err)
	}
}

func testClaimTickAtMostOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	trigID := id.NewTriggerID()

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ClaimTick(ctx, trigID, base)
			switch {
			case err == nil:
				mu.Lock()
				claimed++
				mu.Unlock()
			case !errors.Is(err, ingestion.ErrTickClaimed):
				t.Errorf("ClaimTick: %v", err)
			}
		}()
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}

	if err := s.ClaimTick(ctx, trigID, base.Add(24*time.Hour)); err != nil {
		t.Errorf("next tick: %v", err)
	}
	if err := s.ClaimTick(ctx, id.NewTriggerID(), base); err != nil {
		t.Errorf("other trigger, same tick: %v", err)
	}
}
