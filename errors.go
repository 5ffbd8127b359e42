package ingestion

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("ingestion: no store configured")
	ErrStoreClosed     = errors.New("ingestion: store closed")
	ErrMigrationFailed = errors.New("ingestion: migration failed")

	// Not found errors.
	ErrExecutionNotFound = errors.New("ingestion: execution not found")
	ErrTriggerNotFound   = errors.New("ingestion: trigger not found")
	ErrUnknownTask       = errors.New("ingestion: unknown task")
	ErrUnknownDefinition = errors.New("ingestion: unknown workflow definition")

	// Conflict errors.
	ErrDuplicateRecord = errors.New("ingestion: duplicate execution record")
	ErrTickClaimed     = errors.New("ingestion: tick already claimed")

	// State errors.
	ErrInvalidDefinition  = errors.New("ingestion: invalid workflow definition")
	ErrInvalidExpression  = errors.New("ingestion: invalid schedule expression")
	ErrExecutionFinished  = errors.New("ingestion: execution already finished")
	ErrMaxRetriesExceeded = errors.New("ingestion: max retries exceeded")
	ErrInvalidConfig      = errors.New("ingestion: invalid configuration")
	ErrEngineStopped      = errors.New("ingestion: engine stopped")
)
