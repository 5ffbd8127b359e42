package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

const triggerColumns = `
	id, name, expression, time_zone, definition, input, enabled,
	max_attempts, max_event_age_ns, created_at, updated_at`

// SaveTrigger inserts t or replaces the trigger with the same name. The
// stored ID and creation time win over those on t.
func (s *Store) SaveTrigger(ctx context.Context, t *schedule.Trigger) error {
	if t.ID.IsNil() {
		t.ID = id.NewTriggerID()
	}
	now := time.Now().UTC()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO imagesigner_triggers (`+triggerColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (name) DO UPDATE SET
			expression = EXCLUDED.expression,
			time_zone = EXCLUDED.time_zone,
			definition = EXCLUDED.definition,
			input = EXCLUDED.input,
			enabled = EXCLUDED.enabled,
			max_attempts = EXCLUDED.max_attempts,
			max_event_age_ns = EXCLUDED.max_event_age_ns,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		t.ID.String(), t.Name, t.Expression, t.TimeZone, t.Definition,
		t.Input.String(), t.Enabled, t.MaxAttempts, t.MaxEventAge.Nanoseconds(), now,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ingestion/postgres: save trigger: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return nil
}

// GetTrigger returns a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+triggerColumns+` FROM imagesigner_triggers WHERE id = $1`,
		triggerID.String(),
	)
	t, err := scanTrigger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ingestion.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("ingestion/postgres: get trigger: %w", err)
	}
	return t, nil
}

// ListTriggers returns every trigger ordered by name.
func (s *Store) ListTriggers(ctx context.Context) ([]*schedule.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+triggerColumns+` FROM imagesigner_triggers ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ingestion/postgres: list triggers: %w", err)
	}
	defer rows.Close()

	result := []*schedule.Trigger{}
	for rows.Next() {
		t, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ingestion/postgres: scan trigger row: %w", scanErr)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: iterate trigger rows: %w", err)
	}
	return result, nil
}

// SetTriggerEnabled turns a trigger on or off.
func (s *Store) SetTriggerEnabled(ctx context.Context, triggerID id.TriggerID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE imagesigner_triggers SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		triggerID.String(), enabled,
	)
	if err != nil {
		return fmt.Errorf("ingestion/postgres: set trigger enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrTriggerNotFound
	}
	return nil
}

// ClaimTick records tick for triggerID once across every process sharing
// the database.
func (s *Store) ClaimTick(ctx context.Context, triggerID id.TriggerID, tick time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO imagesigner_trigger_ticks (trigger_id, tick)
		VALUES ($1, $2)
		ON CONFLICT (trigger_id, tick) DO NOTHING`,
		triggerID.String(), tick.Truncate(time.Second).UTC(),
	)
	if err != nil {
		return fmt.Errorf("ingestion/postgres: claim tick: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrTickClaimed
	}
	return nil
}

func scanTrigger(row pgx.Row) (*schedule.Trigger, error) {
	var (
		t        schedule.Trigger
		idStr    string
		inputRaw []byte
		maxAgeNs int64
	)
	err := row.Scan(
		&idStr, &t.Name, &t.Expression, &t.TimeZone, &t.Definition, &inputRaw,
		&t.Enabled, &t.MaxAttempts, &maxAgeNs, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.ID, err = id.ParseTriggerID(idStr); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: parse trigger id %q: %w", idStr, err)
	}
	if t.Input, err = payload.Parse(inputRaw); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: trigger %s input: %w", idStr, err)
	}
	t.MaxEventAge = time.Duration(maxAgeNs)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
