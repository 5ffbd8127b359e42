package execlog

import (
	"fmt"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// Summary is the current view of one execution, folded from its records.
type Summary struct {
	ID           id.ExecutionID `json:"id"`
	Definition   string         `json:"definition"`
	Trigger      id.TriggerID   `json:"trigger,omitempty"`
	Status       Status         `json:"status"`
	CurrentState string         `json:"current_state"`
	Payload      payload.Value  `json:"payload"`
	Attempts     int            `json:"attempts"`
	ErrorClass   string         `json:"error_class,omitempty"`
	Error        string         `json:"error,omitempty"`
	LastSeq      int64          `json:"last_seq"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Apply folds r into s. Stores call it on every Append to keep a
// queryable summary next to the records.
func (s *Summary) Apply(r *Record) {
	s.LastSeq = r.Seq
	s.UpdatedAt = r.At

	switch r.Kind {
	case KindExecutionStarted:
		s.ID = r.ExecutionID
		s.Definition = r.Definition
		s.Trigger = r.Trigger
		s.Status = StatusRunning
		s.CurrentState = r.State
		s.Payload = r.Payload
		s.StartedAt = r.At
	case KindStateEntered:
		s.CurrentState = r.State
	case KindAttempt:
		s.Attempts++
	case KindTransition:
		s.CurrentState = r.Next
		s.Payload = r.Payload
	case KindExecutionSucceeded:
		at := r.At
		s.Status = StatusSucceeded
		s.CurrentState = r.State
		s.Payload = r.Payload
		s.FinishedAt = &at
	case KindExecutionFailed:
		at := r.At
		s.Status = StatusFailed
		s.CurrentState = r.State
		s.ErrorClass = r.ErrorClass
		s.Error = r.Error
		s.FinishedAt = &at
	}
}

// Summarize rebuilds the summary of one execution from its ordered records.
func Summarize(records []*Record) (*Summary, error) {
	if len(records) == 0 {
		return nil, ingestion.ErrExecutionNotFound
	}
	if records[0].Kind != KindExecutionStarted {
		return nil, fmt.Errorf("execlog: first record of %s is %s, want %s",
			records[0].ExecutionID, records[0].Kind, KindExecutionStarted)
	}

	s := &Summary{}
	for i, r := range records {
		if r.Seq != int64(i+1) {
			return nil, fmt.Errorf("execlog: record %d of %s has seq %d", i+1, r.ExecutionID, r.Seq)
		}
		s.Apply(r)
	}
	return s, nil
}
