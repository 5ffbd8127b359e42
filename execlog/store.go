package execlog

import (
	"context"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

// ListOpts controls pagination for execution list queries.
type ListOpts struct {
	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
	// Status filters by execution status. Empty means all statuses.
	Status Status
	// Definition filters by workflow definition name. Empty means all.
	Definition string
}

// Store defines the persistence contract for the execution log.
type Store interface {
	// Append adds r to the log of r.ExecutionID. It returns
	// ErrDuplicateRecord if a record with the same sequence number exists.
	// Records are never updated or deleted.
	Append(ctx context.Context, r *Record) error

	// Query returns every record of an execution ordered by Seq. It returns
	// ErrExecutionNotFound when the execution has no records.
	Query(ctx context.Context, executionID id.ExecutionID) ([]*Record, error)

	// GetExecution returns the summary of one execution.
	GetExecution(ctx context.Context, executionID id.ExecutionID) (*Summary, error)

	// ListExecutions returns execution summaries, most recently started first.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Summary, error)
}
