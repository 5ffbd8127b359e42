package execlog_test

import (
	"errors"
	"testing"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

func sampleLog() []*execlog.Record {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

	return []*execlog.Record{
		{Seq: 1, Kind: execlog.KindExecutionStarted, State: "pull", Payload: payload.Empty(), At: at(0)},
		{Seq: 2, Kind: execlog.KindStateEntered, State: "pull", At: at(0)},
		{Seq: 3, Kind: execlog.KindAttempt, State: "pull", Task: "pull", Attempt: 1, Outcome: execlog.OutcomeError, ErrorClass: "throttled", Delay: time.Second, At: at(1)},
		{Seq: 4, Kind: execlog.KindAttempt, State: "pull", Task: "pull", Attempt: 2, Outcome: execlog.OutcomeSuccess, At: at(3)},
		{Seq: 5, Kind: execlog.KindTransition, State: "pull", Next: "wait", Payload: payload.MustParse(`{"count":3}`), At: at(3)},
		{Seq: 6, Kind: execlog.KindStateEntered, State: "wait", At: at(3)},
		{Seq: 7, Kind: execlog.KindTransition, State: "wait", Next: "sign", Payload: payload.MustParse(`{"count":3}`), At: at(723)},
		{Seq: 8, Kind: execlog.KindStateEntered, State: "sign", At: at(723)},
		{Seq: 9, Kind: execlog.KindAttempt, State: "sign", Task: "sign", Attempt: 1, Outcome: execlog.OutcomeSuccess, At: at(724)},
		{Seq: 10, Kind: execlog.KindTransition, State: "sign", Next: "done", Payload: payload.MustParse(`{"signed":3}`), At: at(724)},
		{Seq: 11, Kind: execlog.KindExecutionSucceeded, State: "done", Payload: payload.MustParse(`{"signed":3}`), At: at(724)},
	}
}

func withIDs(execID id.ExecutionID, recs []*execlog.Record) []*execlog.Record {
	for _, r := range recs {
		r.ID = id.NewRecordID()
		r.ExecutionID = execID
		r.Definition = "image-signer"
	}
	return recs
}

func TestSummarize(t *testing.T) {
	execID := id.NewExecutionID()
	recs := withIDs(execID, sampleLog())

	s, err := execlog.Summarize(recs)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.ID.String() != execID.String() {
		t.Errorf("ID = %s", s.ID)
	}
	if s.Status != execlog.StatusSucceeded {
		t.Errorf("Status = %s", s.Status)
	}
	if s.CurrentState != "done" {
		t.Errorf("CurrentState = %s", s.CurrentState)
	}
	if s.Payload.String() != `{"signed":3}` {
		t.Errorf("Payload = %s", s.Payload)
	}
	if s.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", s.Attempts)
	}
	if s.LastSeq != 11 {
		t.Errorf("LastSeq = %d", s.LastSeq)
	}
	if s.FinishedAt == nil || s.FinishedAt.Sub(s.StartedAt) != 724*time.Second {
		t.Errorf("FinishedAt = %v, StartedAt = %v", s.FinishedAt, s.StartedAt)
	}
}

func TestSummarize_Failed(t *testing.T) {
	execID := id.NewExecutionID()
	recs := withIDs(execID, sampleLog()[:4])
	recs[3].Outcome = execlog.OutcomeError
	recs[3].ErrorClass = "malformed-payload"
	recs = append(recs, &execlog.Record{
		ID: id.NewRecordID(), ExecutionID: execID, Seq: 5,
		Kind: execlog.KindExecutionFailed, State: "pull",
		ErrorClass: "malformed-payload", Error: "bad output",
	})

	s, err := execlog.Summarize(recs)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Status != execlog.StatusFailed || s.ErrorClass != "malformed-payload" || s.Error != "bad output" {
		t.Errorf("summary = %+v", s)
	}
	if !s.Status.Terminal() {
		t.Error("failed should be terminal")
	}
}

func TestSummarize_Errors(t *testing.T) {
	if _, err := execlog.Summarize(nil); !errors.Is(err, ingestion.ErrExecutionNotFound) {
		t.Errorf("Summarize(nil) = %v", err)
	}

	execID := id.NewExecutionID()
	recs := withIDs(execID, sampleLog())
	if _, err := execlog.Summarize(recs[1:]); err == nil {
		t.Error("expected error when first record is not execution_started")
	}

	gap := append([]*execlog.Record{}, recs[:2]...)
	gap = append(gap, recs[3])
	if _, err := execlog.Summarize(gap); err == nil {
		t.Error("expected error for sequence gap")
	}
}

func TestAttempts(t *testing.T) {
	execID := id.NewExecutionID()
	got := execlog.Attempts(withIDs(execID, sampleLog()))
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].State != "pull" || got[0].Number != 1 || got[0].Delay != time.Second {
		t.Errorf("first attempt = %+v", got[0])
	}
	if got[2].State != "sign" || got[2].Outcome != execlog.OutcomeSuccess {
		t.Errorf("last attempt = %+v", got[2])
	}
}

func TestRecordValidate(t *testing.T) {
	good := &execlog.Record{ExecutionID: id.NewExecutionID(), Seq: 1, Kind: execlog.KindExecutionStarted}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := []*execlog.Record{
		{Seq: 1, Kind: execlog.KindExecutionStarted},
		{ExecutionID: id.NewExecutionID(), Seq: 0, Kind: execlog.KindExecutionStarted},
		{ExecutionID: id.NewExecutionID(), Seq: 1, Kind: "bogus"},
		{ExecutionID: id.NewExecutionID(), Seq: 1, Kind: execlog.KindAttempt},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
