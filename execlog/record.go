package execlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// Kind identifies what a record describes.
type Kind string

const (
	KindExecutionStarted   Kind = "execution_started"
	KindStateEntered       Kind = "state_entered"
	KindAttempt            Kind = "attempt"
	KindTransition         Kind = "transition"
	KindExecutionSucceeded Kind = "execution_succeeded"
	KindExecutionFailed    Kind = "execution_failed"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindExecutionStarted, KindStateEntered, KindAttempt, KindTransition,
		KindExecutionSucceeded, KindExecutionFailed:
		return true
	}
	return false
}

// Outcome is the result of one task attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Record is one entry of the execution log. Which fields are set depends
// on Kind.
type Record struct {
	ID          id.RecordID    `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	Seq         int64          `json:"seq"`
	Kind        Kind           `json:"kind"`
	Definition  string         `json:"definition"`

	// Trigger is set on execution_started when a schedule created the run.
	Trigger id.TriggerID `json:"trigger,omitempty"`

	// State is the state the record concerns; Next is the transition target.
	State string `json:"state,omitempty"`
	Next  string `json:"next,omitempty"`

	// Attempt fields.
	Task       string        `json:"task,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	ErrorClass string        `json:"error_class,omitempty"`
	Error      string        `json:"error,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Final      bool          `json:"final,omitempty"`

	// Payload is the execution payload after the change; on a failed
	// attempt caused by a malformed payload it is the offending payload.
	Payload payload.Value `json:"payload"`

	At time.Time `json:"at"`
}

// Validate checks the invariants every store enforces on Append.
func (r *Record) Validate() error {
	var errs []error
	if r.ExecutionID.IsNil() {
		errs = append(errs, errors.New("execution id is required"))
	}
	if r.Seq < 1 {
		errs = append(errs, fmt.Errorf("seq %d must be >= 1", r.Seq))
	}
	if !r.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", r.Kind))
	}
	if r.Kind == KindAttempt && r.Attempt < 1 {
		errs = append(errs, fmt.Errorf("attempt %d must be >= 1", r.Attempt))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("execlog: invalid record: %w", err)
	}
	return nil
}

// Attempt is the view of a KindAttempt record.
type Attempt struct {
	ExecutionID id.ExecutionID
	State       string
	Task        string
	Number      int
	Outcome     Outcome
	ErrorClass  string
	Error       string
	Delay       time.Duration
	At          time.Time
}

// Attempts extracts attempt records in log order.
func Attempts(records []*Record) []Attempt {
	var out []Attempt
	for _, r := range records {
		if r.Kind != KindAttempt {
			continue
		}
		out = append(out, Attempt{
			ExecutionID: r.ExecutionID,
			State:       r.State,
			Task:        r.Task,
			Number:      r.Attempt,
			Outcome:     r.Outcome,
			ErrorClass:  r.ErrorClass,
			Error:       r.Error,
			Delay:       r.Delay,
			At:          r.At,
		})
	}
	return out
}
