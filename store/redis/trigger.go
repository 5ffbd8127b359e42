package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// SaveTrigger inserts t or replaces the trigger with the same name. The
// name index is claimed with HSETNX so concurrent first saves agree on one
// ID.
func (s *Store) SaveTrigger(ctx context.Context, t *schedule.Trigger) error {
	if t.ID.IsNil() {
		t.ID = id.NewTriggerID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	claimed, err := s.client.HSetNX(ctx, s.triggerNamesKey(), t.Name, t.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("ingestion/redis: save trigger name: %w", err)
	}
	if !claimed {
		existing, getErr := s.client.HGet(ctx, s.triggerNamesKey(), t.Name).Result()
		if getErr != nil {
			return fmt.Errorf("ingestion/redis: save trigger lookup: %w", getErr)
		}
		if t.ID, err = id.ParseTriggerID(existing); err != nil {
			return fmt.Errorf("ingestion/redis: parse trigger id: %w", err)
		}
		created, getErr := s.client.HGet(ctx, s.triggerKey(existing), "created_at").Result()
		switch {
		case errors.Is(getErr, goredis.Nil):
		case getErr != nil:
			return fmt.Errorf("ingestion/redis: save trigger created_at: %w", getErr)
		default:
			if at, parseErr := time.Parse(time.RFC3339Nano, created); parseErr == nil {
				t.CreatedAt = at
			}
		}
	}

	if err := s.client.HSet(ctx, s.triggerKey(t.ID.String()), triggerToMap(t)).Err(); err != nil {
		return fmt.Errorf("ingestion/redis: save trigger: %w", err)
	}
	return nil
}

// GetTrigger returns a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	vals, err := s.client.HGetAll(ctx, s.triggerKey(triggerID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: get trigger: %w", err)
	}
	if len(vals) == 0 {
		return nil, ingestion.ErrTriggerNotFound
	}
	return mapToTrigger(vals)
}

// ListTriggers returns every trigger ordered by name.
func (s *Store) ListTriggers(ctx context.Context) ([]*schedule.Trigger, error) {
	names, err := s.client.HGetAll(ctx, s.triggerNamesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: list triggers: %w", err)
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	result := make([]*schedule.Trigger, 0, len(sorted))
	for _, name := range sorted {
		vals, getErr := s.client.HGetAll(ctx, s.triggerKey(names[name])).Result()
		if getErr != nil {
			return nil, fmt.Errorf("ingestion/redis: list triggers get: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		t, convErr := mapToTrigger(vals)
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, t)
	}
	return result, nil
}

// SetTriggerEnabled turns a trigger on or off.
func (s *Store) SetTriggerEnabled(ctx context.Context, triggerID id.TriggerID, enabled bool) error {
	key := s.triggerKey(triggerID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ingestion/redis: set trigger enabled exists: %w", err)
	}
	if exists == 0 {
		return ingestion.ErrTriggerNotFound
	}

	err = s.client.HSet(ctx, key,
		"enabled", strconv.FormatBool(enabled),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("ingestion/redis: set trigger enabled: %w", err)
	}
	return nil
}

// ClaimTick records tick for triggerID once. Claims expire after the tick
// retention window.
func (s *Store) ClaimTick(ctx context.Context, triggerID id.TriggerID, tick time.Time) error {
	ok, err := s.client.SetNX(ctx, s.tickKey(triggerID.String(), tick), "1", s.tickTTL).Result()
	if err != nil {
		return fmt.Errorf("ingestion/redis: claim tick: %w", err)
	}
	if !ok {
		return ingestion.ErrTickClaimed
	}
	return nil
}

func triggerToMap(t *schedule.Trigger) map[string]any {
	return map[string]any{
		"id":               t.ID.String(),
		"name":             t.Name,
		"expression":       t.Expression,
		"time_zone":        t.TimeZone,
		"definition":       t.Definition,
		"input":            t.Input.String(),
		"enabled":          strconv.FormatBool(t.Enabled),
		"max_attempts":     t.MaxAttempts,
		"max_event_age_ns": t.MaxEventAge.Nanoseconds(),
		"created_at":       t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToTrigger(m map[string]string) (*schedule.Trigger, error) {
	trigID, err := id.ParseTriggerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: parse trigger id: %w", err)
	}
	input, err := payload.Parse([]byte(m["input"]))
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: trigger %s input: %w", m["id"], err)
	}
	enabled, eErr := strconv.ParseBool(m["enabled"])
	maxAttempts, aErr := strconv.Atoi(m["max_attempts"])
	maxAgeNs, gErr := strconv.ParseInt(m["max_event_age_ns"], 10, 64)
	createdAt, cErr := time.Parse(time.RFC3339Nano, m["created_at"])
	updatedAt, uErr := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err := errors.Join(eErr, aErr, gErr, cErr, uErr); err != nil {
		return nil, fmt.Errorf("ingestion/redis: decode trigger %s: %w", m["id"], err)
	}

	return &schedule.Trigger{
		ID:          trigID,
		Name:        m["name"],
		Expression:  m["expression"],
		TimeZone:    m["time_zone"],
		Definition:  m["definition"],
		Input:       input,
		Enabled:     enabled,
		MaxAttempts: maxAttempts,
		MaxEventAge: time.Duration(maxAgeNs),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}
