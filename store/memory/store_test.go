package memory

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
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Execution log tests
// ──────────────────────────────────────────────────

func newRecord(execID id.ExecutionID, seq int64, kind execlog.Kind, at time.Time) *execlog.Record {
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

func appendAll(t *testing.T, s *Store, records ...*execlog.Record) {
	t.Helper()
	for _, r := range records {
		if err := s.Append(context.Background(), r); err != nil {
			t.Fatalf("Append(seq %d): %v", r.Seq, err)
		}
	}
}

func TestAppendAndQuery(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	execID := id.NewExecutionID()
	now := time.Now().UTC()

	attempt := newRecord(execID, 3, execlog.KindAttempt, now)
	attempt.Task = "pull"
	attempt.Attempt = 1
	attempt.Outcome = execlog.OutcomeSuccess

	appendAll(t, s,
		newRecord(execID, 1, execlog.KindExecutionStarted, now),
		newRecord(execID, 2, execlog.KindStateEntered, now),
		attempt,
	)

	records, err := s.Query(ctx, execID)
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
	}
	if records[2].Kind != execlog.KindAttempt {
		t.Errorf("records[2].Kind = %q, want %q", records[2].Kind, execlog.KindAttempt)
	}
}

func TestAppend_RejectsDuplicateSeq(t *testing.T) {
	t.Parallel()
	s := New()
	execID := id.NewExecutionID()
	now := time.Now().UTC()
	appendAll(t, s, newRecord(execID, 1, execlog.KindExecutionStarted, now))

	err := s.Append(context.Background(), newRecord(execID, 1, execlog.KindStateEntered, now))
	if !errors.Is(err, ingestion.ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
}

func TestAppend_RejectsGap(t *testing.T) {
	t.Parallel()
	s := New()
	execID := id.NewExecutionID()
	now := time.Now().UTC()
	appendAll(t, s, newRecord(execID, 1, execlog.KindExecutionStarted, now))

	err := s.Append(context.Background(), newRecord(execID, 3, execlog.KindStateEntered, now))
	if err == nil {
		t.Fatal("expected error for seq gap")
	}
	if errors.Is(err, ingestion.ErrDuplicateRecord) {
		t.Fatalf("gap should not be reported as duplicate: %v", err)
	}
}

func TestAppend_RequiresStartedFirst(t *testing.T) {
	t.Parallel()
	s := New()
	err := s.Append(context.Background(), newRecord(id.NewExecutionID(), 1, execlog.KindStateEntered, time.Now()))
	if !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestAppend_RejectsInvalidRecord(t *testing.T) {
	t.Parallel()
	s := New()
	r := newRecord(id.NewExecutionID(), 0, execlog.KindExecutionStarted, time.Now())
	if err := s.Append(context.Background(), r); err == nil {
		t.Fatal("expected validation error for seq 0")
	}
}

func TestAppend_StoresCopy(t *testing.T) {
	t.Parallel()
	s := New()
	execID := id.NewExecutionID()
	r := newRecord(execID, 1, execlog.KindExecutionStarted, time.Now().UTC())
	appendAll(t, s, r)

	r.State = "mutated"
	records, err := s.Query(context.Background(), execID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if records[0].State == "mutated" {
		t.Fatal("store should keep its own copy of appended records")
	}
}

func TestQuery_NotFound(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.Query(context.Background(), id.NewExecutionID())
	if !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestGetExecution_FoldsSummary(t *testing.T) {
	t.Parallel()
	s := New()
	execID := id.NewExecutionID()
	now := time.Now().UTC()

	done := newRecord(execID, 2, execlog.KindExecutionSucceeded, now.Add(time.Minute))
	done.State = "done"
	done.Payload = payload.MustParse(`{"signed":3}`)
	appendAll(t, s,
		newRecord(execID, 1, execlog.KindExecutionStarted, now),
		done,
	)

	sum, err := s.GetExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Status != execlog.StatusSucceeded {
		t.Errorf("Status = %q, want %q", sum.Status, execlog.StatusSucceeded)
	}
	if sum.CurrentState != "done" {
		t.Errorf("CurrentState = %q, want %q", sum.CurrentState, "done")
	}
	if !sum.Payload.Equal(payload.MustParse(`{"signed":3}`)) {
		t.Errorf("Payload = %s, want {\"signed\":3}", sum.Payload)
	}
	if sum.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if sum.LastSeq != 2 {
		t.Errorf("LastSeq = %d, want 2", sum.LastSeq)
	}
}

func TestListExecutions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	var ids []id.ExecutionID
	for i := range 4 {
		execID := id.NewExecutionID()
		ids = append(ids, execID)
		appendAll(t, s, newRecord(execID, 1, execlog.KindExecutionStarted, base.Add(time.Duration(i)*time.Minute)))
	}
	failed := newRecord(ids[0], 2, execlog.KindExecutionFailed, base.Add(time.Hour))
	failed.ErrorClass = "client-error"
	appendAll(t, s, failed)

	tests := []struct {
		name    string
		opts    execlog.ListOpts
		wantIDs []id.ExecutionID
	}{
		{"all newest first", execlog.ListOpts{}, []id.ExecutionID{ids[3], ids[2], ids[1], ids[0]}},
		{"limit", execlog.ListOpts{Limit: 2}, []id.ExecutionID{ids[3], ids[2]}},
		{"offset", execlog.ListOpts{Offset: 3}, []id.ExecutionID{ids[0]}},
		{"offset past end", execlog.ListOpts{Offset: 10}, nil},
		{"status", execlog.ListOpts{Status: execlog.StatusFailed}, []id.ExecutionID{ids[0]}},
		{"definition miss", execlog.ListOpts{Definition: "other"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListExecutions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d executions, got %d", len(tt.wantIDs), len(got))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID.String() != want.String() {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			execID := id.NewExecutionID()
			for seq := int64(1); seq <= 20; seq++ {
				kind := execlog.KindStateEntered
				if seq == 1 {
					kind = execlog.KindExecutionStarted
				}
				if err := s.Append(context.Background(), newRecord(execID, seq, kind, now)); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	list, err := s.ListExecutions(context.Background(), execlog.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 8 {
		t.Fatalf("expected 8 executions, got %d", len(list))
	}
	for _, sum := range list {
		if sum.LastSeq != 20 {
			t.Errorf("%s LastSeq = %d, want 20", sum.ID, sum.LastSeq)
		}
	}
}

// ──────────────────────────────────────────────────
// Trigger tests
// ──────────────────────────────────────────────────

func newTrigger(name string) *schedule.Trigger {
	return &schedule.Trigger{
		Name:        name,
		Expression:  "cron(0 9 * * *)",
		TimeZone:    "America/Los_Angeles",
		Definition:  "image-signer",
		Input:       payload.Empty(),
		Enabled:     true,
		MaxAttempts: 185,
		MaxEventAge: 24 * time.Hour,
	}
}

func TestSaveTrigger_AssignsIDAndUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := newTrigger("daily")
	if err := s.SaveTrigger(ctx, first); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}
	if first.ID.IsNil() {
		t.Fatal("SaveTrigger should assign an ID")
	}

	second := newTrigger("daily")
	second.Expression = "rate(1 hour)"
	if err := s.SaveTrigger(ctx, second); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}
	if second.ID.String() != first.ID.String() {
		t.Fatalf("upsert should keep ID %s, got %s", first.ID, second.ID)
	}

	got, err := s.GetTrigger(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Expression != "rate(1 hour)" {
		t.Errorf("Expression = %q, want %q", got.Expression, "rate(1 hour)")
	}

	list, err := s.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(list))
	}
}

func TestListTriggers_SortedByName(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		if err := s.SaveTrigger(ctx, newTrigger(name)); err != nil {
			t.Fatalf("SaveTrigger: %v", err)
		}
	}

	list, err := s.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Name != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Name, want)
		}
	}
}

func TestSetTriggerEnabled(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	tr := newTrigger("daily")
	if err := s.SaveTrigger(ctx, tr); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}

	if err := s.SetTriggerEnabled(ctx, tr.ID, false); err != nil {
		t.Fatalf("SetTriggerEnabled: %v", err)
	}
	got, _ := s.GetTrigger(ctx, tr.ID)
	if got.Enabled {
		t.Fatal("trigger should be disabled")
	}

	err := s.SetTriggerEnabled(ctx, id.NewTriggerID(), true)
	if !errors.Is(err, ingestion.ErrTriggerNotFound) {
		t.Fatalf("expected ErrTriggerNotFound, got %v", err)
	}
}

func TestGetTrigger_NotFound(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.GetTrigger(context.Background(), id.NewTriggerID())
	if !errors.Is(err, ingestion.ErrTriggerNotFound) {
		t.Fatalf("expected ErrTriggerNotFound, got %v", err)
	}
}

func TestClaimTick_AtMostOnce(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	triggerID := id.NewTriggerID()
	tick := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ClaimTick(ctx, triggerID, tick)
			if err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ingestion.ErrTickClaimed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Fatalf("expected exactly 1 claim, got %d", claimed)
	}
	if err := s.ClaimTick(ctx, triggerID, tick.Add(24*time.Hour)); err != nil {
		t.Fatalf("next tick should be claimable: %v", err)
	}
}
