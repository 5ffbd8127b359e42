package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// Trigger fires a new execution of Definition on every tick of Expression.
type Trigger struct {
	ID         id.TriggerID  `json:"id"`
	Name       string        `json:"name"`
	Expression string        `json:"expression"`
	TimeZone   string        `json:"time_zone,omitempty"`
	Definition string        `json:"definition"`
	Input      payload.Value `json:"input"`
	Enabled    bool          `json:"enabled"`

	// MaxAttempts bounds how often creating the execution for one tick is
	// tried. Values below 1 mean a single attempt.
	MaxAttempts int `json:"max_attempts"`
	// MaxEventAge bounds how long after the tick creation may still be
	// tried. Zero means no age limit.
	MaxEventAge time.Duration `json:"max_event_age"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that t can be scheduled.
func (t *Trigger) Validate() error {
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if t.Definition == "" {
		errs = append(errs, errors.New("definition is required"))
	}
	if _, err := ParseExpression(t.Expression, t.TimeZone); err != nil {
		errs = append(errs, err)
	}
	if t.MaxEventAge < 0 {
		errs = append(errs, fmt.Errorf("max event age %v must be >= 0", t.MaxEventAge))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("schedule: invalid trigger %q: %w", t.Name, err)
	}
	return nil
}

// attempts returns the creation attempt budget.
func (t *Trigger) attempts() int {
	if t.MaxAttempts < 1 {
		return 1
	}
	return t.MaxAttempts
}
