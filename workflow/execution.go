package workflow

import (
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// Status is the lifecycle state of an execution.
type Status = execlog.Status

// Execution statuses.
const (
	StatusRunning   = execlog.StatusRunning
	StatusSucceeded = execlog.StatusSucceeded
	StatusFailed    = execlog.StatusFailed
)

// Execution is one run through a Definition. While running it is owned by
// the goroutine driving it; once terminal it is never modified again.
type Execution struct {
	ID         id.ExecutionID
	Definition *Definition
	Trigger    id.TriggerID
	Current    string
	Status     Status
	Payload    payload.Value
	ErrorClass string
	Error      string
	CreatedAt  time.Time
	FinishedAt *time.Time

	// attempts counts attempts per task state.
	attempts map[string]int
	// seq is the sequence number of the last committed log record.
	seq int64
}

// Attempts returns how many attempts the named state has made so far.
func (e *Execution) Attempts(state string) int {
	return e.attempts[state]
}

// Seq returns the sequence number of the last committed log record.
func (e *Execution) Seq() int64 { return e.seq }

// Snapshot returns a copy that shares nothing mutable with e. Callers that
// hand e to another goroutine keep the snapshot.
func (e *Execution) Snapshot() *Execution {
	cp := *e
	if e.FinishedAt != nil {
		at := *e.FinishedAt
		cp.FinishedAt = &at
	}
	cp.attempts = make(map[string]int, len(e.attempts))
	for k, v := range e.attempts {
		cp.attempts[k] = v
	}
	return &cp
}

// Done reports whether the execution reached a terminal status.
func (e *Execution) Done() bool { return e.Status.Terminal() }
