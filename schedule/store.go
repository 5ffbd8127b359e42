package schedule

import (
	"context"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

// Store defines the persistence contract for triggers and claimed ticks.
type Store interface {
	// SaveTrigger inserts t. When a trigger with the same name exists it is
	// replaced and t adopts its ID and CreatedAt, so a trigger keeps its
	// identity across restarts.
	SaveTrigger(ctx context.Context, t *Trigger) error

	// GetTrigger returns a trigger by ID or ErrTriggerNotFound.
	GetTrigger(ctx context.Context, triggerID id.TriggerID) (*Trigger, error)

	// ListTriggers returns every trigger ordered by name.
	ListTriggers(ctx context.Context) ([]*Trigger, error)

	// SetTriggerEnabled turns a trigger on or off. It returns
	// ErrTriggerNotFound for an unknown ID.
	SetTriggerEnabled(ctx context.Context, triggerID id.TriggerID, enabled bool) error

	// ClaimTick records that tick of triggerID is being fired. Exactly one
	// caller per (trigger, tick) succeeds; the others get ErrTickClaimed.
	ClaimTick(ctx context.Context, triggerID id.TriggerID, tick time.Time) error
}
