package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ execlog.Store  = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
)

// execution is the log of one execution plus its folded summary.
type execution struct {
	records []*execlog.Record
	summary execlog.Summary
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	executions map[string]*execution
	triggers   map[string]*schedule.Trigger
	// names maps trigger names to trigger IDs.
	names map[string]string
	ticks map[string]struct{}
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions: make(map[string]*execution),
		triggers:   make(map[string]*schedule.Trigger),
		names:      make(map[string]string),
		ticks:      make(map[string]struct{}),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Execution log
// ──────────────────────────────────────────────────

// Append adds r to the log of its execution. Seq must be exactly one past
// the last record.
func (m *Store) Append(_ context.Context, r *execlog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ExecutionID.String()
	e, ok := m.executions[key]
	if !ok {
		if r.Kind != execlog.KindExecutionStarted {
			return fmt.Errorf("ingestion/memory: first record of %s is %s: %w", key, r.Kind, ingestion.ErrExecutionNotFound)
		}
		e = &execution{}
	}

	last := int64(len(e.records))
	switch {
	case r.Seq <= last:
		return fmt.Errorf("ingestion/memory: %s seq %d: %w", key, r.Seq, ingestion.ErrDuplicateRecord)
	case r.Seq != last+1:
		return fmt.Errorf("ingestion/memory: %s seq %d out of order, want %d", key, r.Seq, last+1)
	}

	cp := *r
	e.records = append(e.records, &cp)
	e.summary.Apply(&cp)
	m.executions[key] = e
	return nil
}

// Query returns the records of one execution ordered by Seq.
func (m *Store) Query(_ context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return nil, ingestion.ErrExecutionNotFound
	}
	out := make([]*execlog.Record, len(e.records))
	for i, r := range e.records {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// GetExecution returns the summary of one execution.
func (m *Store) GetExecution(_ context.Context, executionID id.ExecutionID) (*execlog.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[executionID.String()]
	if !ok {
		return nil, ingestion.ErrExecutionNotFound
	}
	cp := e.summary
	return &cp, nil
}

// ListExecutions returns summaries, most recently started first.
func (m *Store) ListExecutions(_ context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*execlog.Summary, 0, len(m.executions))
	for _, e := range m.executions {
		if opts.Status != "" && e.summary.Status != opts.Status {
			continue
		}
		if opts.Definition != "" && e.summary.Definition != opts.Definition {
			continue
		}
		cp := e.summary
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].StartedAt.Equal(result[k].StartedAt) {
			return result[i].StartedAt.After(result[k].StartedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Triggers
// ──────────────────────────────────────────────────

// SaveTrigger inserts t or replaces the trigger with the same name.
func (m *Store) SaveTrigger(_ context.Context, t *schedule.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.names[t.Name]; ok {
		prev := m.triggers[existing]
		t.ID = prev.ID
		t.CreatedAt = prev.CreatedAt
	} else {
		if t.ID.IsNil() {
			t.ID = id.NewTriggerID()
		}
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	cp := *t
	m.triggers[t.ID.String()] = &cp
	m.names[t.Name] = t.ID.String()
	return nil
}

// GetTrigger returns a trigger by ID.
func (m *Store) GetTrigger(_ context.Context, triggerID id.TriggerID) (*schedule.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return nil, ingestion.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTriggers returns every trigger ordered by name.
func (m *Store) ListTriggers(_ context.Context) ([]*schedule.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// SetTriggerEnabled turns a trigger on or off.
func (m *Store) SetTriggerEnabled(_ context.Context, triggerID id.TriggerID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return ingestion.ErrTriggerNotFound
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ClaimTick records tick for triggerID once.
func (m *Store) ClaimTick(_ context.Context, triggerID id.TriggerID, tick time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s:%d", triggerID, tick.Truncate(time.Second).Unix())
	if _, claimed := m.ticks[key]; claimed {
		return ingestion.ErrTickClaimed
	}
	m.ticks[key] = struct{}{}
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
