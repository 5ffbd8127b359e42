package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

// appendScript writes a record and its folded summary if the summary's
// last_seq still equals ARGV[1]. It returns -1 on success and the current
// last_seq otherwise.
//
// KEYS: summary hash, records list, executions zset.
// ARGV: expected last_seq, record JSON, start score, execution ID,
// then summary field/value pairs.
var appendScript = goredis.NewScript(`
local last = tonumber(redis.call('HGET', KEYS[1], 'last_seq') or '0')
if last ~= tonumber(ARGV[1]) then
	return last
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('RPUSH', KEYS[2], ARGV[2])
if last == 0 then
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
end
return -1
`)

// appendConflictRetries bounds how often Append refolds after another
// writer advanced the same execution.
const appendConflictRetries = 3

// Append adds r to the log of its execution.
func (s *Store) Append(ctx context.Context, r *execlog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	cp := *r
	if cp.ID.IsNil() {
		cp.ID = id.NewRecordID()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("ingestion/redis: marshal record: %w", err)
	}

	execID := r.ExecutionID.String()
	keys := []string{s.summaryKey(execID), s.recordsKey(execID), s.executionsKey()}

	for range appendConflictRetries {
		sum, last, err := s.loadSummary(ctx, execID)
		if err != nil {
			return err
		}
		if err := checkSeq(r, last); err != nil {
			return err
		}
		if sum == nil {
			sum = &execlog.Summary{}
		}
		sum.Apply(&cp)

		args := []any{last, data, sum.StartedAt.UnixNano(), execID}
		for k, v := range summaryToMap(sum) {
			args = append(args, k, v)
		}

		current, err := appendScript.Run(ctx, s.client, keys, args...).Int64()
		if err != nil {
			return fmt.Errorf("ingestion/redis: append: %w", err)
		}
		if current == -1 {
			return nil
		}
		if err := checkSeq(r, current); err != nil {
			return err
		}
		// Another writer appended in between and r is still next in line.
	}
	return fmt.Errorf("ingestion/redis: append %s seq %d: too much contention", execID, r.Seq)
}

func checkSeq(r *execlog.Record, last int64) error {
	switch {
	case last == 0 && r.Kind != execlog.KindExecutionStarted:
		return fmt.Errorf("ingestion/redis: first record of %s is %s: %w", r.ExecutionID, r.Kind, ingestion.ErrExecutionNotFound)
	case r.Seq <= last:
		return fmt.Errorf("ingestion/redis: %s seq %d: %w", r.ExecutionID, r.Seq, ingestion.ErrDuplicateRecord)
	case r.Seq != last+1:
		return fmt.Errorf("ingestion/redis: %s seq %d out of order, want %d", r.ExecutionID, r.Seq, last+1)
	}
	return nil
}

// loadSummary returns the stored summary and its last_seq, or nil and 0
// when the execution does not exist yet.
func (s *Store) loadSummary(ctx context.Context, execID string) (*execlog.Summary, int64, error) {
	vals, err := s.client.HGetAll(ctx, s.summaryKey(execID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("ingestion/redis: load summary: %w", err)
	}
	if len(vals) == 0 {
		return nil, 0, nil
	}
	sum, err := mapToSummary(vals)
	if err != nil {
		return nil, 0, err
	}
	return sum, sum.LastSeq, nil
}

// Query returns the records of one execution ordered by Seq.
func (s *Store) Query(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	raw, err := s.client.LRange(ctx, s.recordsKey(executionID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: query records: %w", err)
	}
	if len(raw) == 0 {
		return nil, ingestion.ErrExecutionNotFound
	}

	records := make([]*execlog.Record, 0, len(raw))
	for _, item := range raw {
		var r execlog.Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("ingestion/redis: decode record: %w", err)
		}
		records = append(records, &r)
	}
	return records, nil
}

// GetExecution returns the summary of one execution.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*execlog.Summary, error) {
	sum, _, err := s.loadSummary(ctx, executionID.String())
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, ingestion.ErrExecutionNotFound
	}
	return sum, nil
}

// ListExecutions returns summaries, most recently started first. Filters
// are applied client-side while walking the start-time index.
func (s *Store) ListExecutions(ctx context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error) {
	ids, err := s.client.ZRevRange(ctx, s.executionsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: list executions: %w", err)
	}

	result := []*execlog.Summary{}
	skipped := 0
	for _, execID := range ids {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
		sum, _, loadErr := s.loadSummary(ctx, execID)
		if loadErr != nil {
			return nil, loadErr
		}
		if sum == nil {
			continue
		}
		if opts.Status != "" && sum.Status != opts.Status {
			continue
		}
		if opts.Definition != "" && sum.Definition != opts.Definition {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		result = append(result, sum)
	}
	return result, nil
}

func summaryToMap(s *execlog.Summary) map[string]any {
	m := map[string]any{
		"id":            s.ID.String(),
		"definition":    s.Definition,
		"trigger":       s.Trigger.String(),
		"status":        string(s.Status),
		"current_state": s.CurrentState,
		"payload":       s.Payload.String(),
		"attempts":      s.Attempts,
		"error_class":   s.ErrorClass,
		"error":         s.Error,
		"last_seq":      s.LastSeq,
		"started_at":    s.StartedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":   "",
	}
	if s.FinishedAt != nil {
		m["finished_at"] = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToSummary(m map[string]string) (*execlog.Summary, error) {
	execID, err := id.ParseExecutionID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: parse execution id: %w", err)
	}
	var trigID id.TriggerID
	if v := m["trigger"]; v != "" {
		if trigID, err = id.ParseTriggerID(v); err != nil {
			return nil, fmt.Errorf("ingestion/redis: parse trigger id: %w", err)
		}
	}
	p, err := payload.Parse([]byte(m["payload"]))
	if err != nil {
		return nil, fmt.Errorf("ingestion/redis: execution %s payload: %w", m["id"], err)
	}
	attempts, aErr := strconv.Atoi(m["attempts"])
	lastSeq, sErr := strconv.ParseInt(m["last_seq"], 10, 64)
	startedAt, stErr := time.Parse(time.RFC3339Nano, m["started_at"])
	updatedAt, uErr := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err := errors.Join(aErr, sErr, stErr, uErr); err != nil {
		return nil, fmt.Errorf("ingestion/redis: decode execution %s: %w", m["id"], err)
	}

	s := &execlog.Summary{
		ID:           execID,
		Definition:   m["definition"],
		Trigger:      trigID,
		Status:       execlog.Status(m["status"]),
		CurrentState: m["current_state"],
		Payload:      p,
		Attempts:     attempts,
		ErrorClass:   m["error_class"],
		Error:        m["error"],
		LastSeq:      lastSeq,
		StartedAt:    startedAt,
		UpdatedAt:    updatedAt,
	}
	if v := m["finished_at"]; v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("ingestion/redis: decode execution %s finished_at: %w", m["id"], err)
		}
		s.FinishedAt = &at
	}
	return s, nil
}
