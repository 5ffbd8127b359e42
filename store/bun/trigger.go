package bunstore

import (
	"context"
	"fmt"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// SaveTrigger inserts t or replaces the trigger with the same name. The
// stored ID and creation time win over those on t.
func (s *Store) SaveTrigger(ctx context.Context, t *schedule.Trigger) error {
	if t.ID.IsNil() {
		t.ID = id.NewTriggerID()
	}
	now := time.Now().UTC()
	m := toTriggerModel(t)
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("expression = EXCLUDED.expression").
		Set("time_zone = EXCLUDED.time_zone").
		Set("definition = EXCLUDED.definition").
		Set("input = EXCLUDED.input").
		Set("enabled = EXCLUDED.enabled").
		Set("max_attempts = EXCLUDED.max_attempts").
		Set("max_event_age_ns = EXCLUDED.max_event_age_ns").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ingestion/bun: save trigger: %w", err)
	}

	stored, err := fromTriggerModel(m)
	if err != nil {
		return err
	}
	t.ID = stored.ID
	t.CreatedAt = stored.CreatedAt
	t.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetTrigger returns a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	m := new(triggerModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", triggerID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ingestion.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("ingestion/bun: get trigger: %w", err)
	}
	return fromTriggerModel(m)
}

// ListTriggers returns every trigger ordered by name.
func (s *Store) ListTriggers(ctx context.Context) ([]*schedule.Trigger, error) {
	var models []triggerModel
	if err := s.db.NewSelect().Model(&models).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("ingestion/bun: list triggers: %w", err)
	}

	result := make([]*schedule.Trigger, 0, len(models))
	for i := range models {
		t, convErr := fromTriggerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("ingestion/bun: list triggers convert: %w", convErr)
		}
		result = append(result, t)
	}
	return result, nil
}

// SetTriggerEnabled turns a trigger on or off.
func (s *Store) SetTriggerEnabled(ctx context.Context, triggerID id.TriggerID, enabled bool) error {
	res, err := s.db.NewUpdate().Model((*triggerModel)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = NOW()").
		Where("id = ?", triggerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ingestion/bun: set trigger enabled: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return ingestion.ErrTriggerNotFound
	}
	return nil
}

// ClaimTick records tick for triggerID once across every process sharing
// the database.
func (s *Store) ClaimTick(ctx context.Context, triggerID id.TriggerID, tick time.Time) error {
	m := &tickModel{
		TriggerID: triggerID.String(),
		Tick:      tick.Truncate(time.Second).UTC(),
	}
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (trigger_id, tick) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ingestion/bun: claim tick: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return ingestion.ErrTickClaimed
	}
	return nil
}
