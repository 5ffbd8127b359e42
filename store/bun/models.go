package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// ── Execution summary model ───────────────────────────────────────

type executionModel struct {
	bun.BaseModel `bun:"table:imagesigner_executions"`

	ID           string     `bun:"id,pk"`
	Definition   string     `bun:"definition,notnull"`
	TriggerID    string     `bun:"trigger_id,nullzero"`
	Status       string     `bun:"status,notnull"`
	CurrentState string     `bun:"current_state,notnull"`
	Payload      string     `bun:"payload,notnull,type:jsonb"`
	Attempts     int        `bun:"attempts,notnull"`
	ErrorClass   string     `bun:"error_class,notnull"`
	Error        string     `bun:"error,notnull"`
	LastSeq      int64      `bun:"last_seq,notnull"`
	StartedAt    time.Time  `bun:"started_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
	FinishedAt   *time.Time `bun:"finished_at"`
}

func toExecutionModel(s *execlog.Summary) *executionModel {
	return &executionModel{
		ID:           s.ID.String(),
		Definition:   s.Definition,
		TriggerID:    s.Trigger.String(),
		Status:       string(s.Status),
		CurrentState: s.CurrentState,
		Payload:      s.Payload.String(),
		Attempts:     s.Attempts,
		ErrorClass:   s.ErrorClass,
		Error:        s.Error,
		LastSeq:      s.LastSeq,
		StartedAt:    s.StartedAt,
		UpdatedAt:    s.UpdatedAt,
		FinishedAt:   s.FinishedAt,
	}
}

func fromExecutionModel(m *executionModel) (*execlog.Summary, error) {
	execID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse execution id %q: %w", m.ID, err)
	}
	trigID, err := parseOptionalID(m.TriggerID, id.ParseTriggerID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse trigger id %q: %w", m.TriggerID, err)
	}
	p, err := payload.Parse([]byte(m.Payload))
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: execution %s payload: %w", m.ID, err)
	}

	s := &execlog.Summary{
		ID:           execID,
		Definition:   m.Definition,
		Trigger:      trigID,
		Status:       execlog.Status(m.Status),
		CurrentState: m.CurrentState,
		Payload:      p,
		Attempts:     m.Attempts,
		ErrorClass:   m.ErrorClass,
		Error:        m.Error,
		LastSeq:      m.LastSeq,
		StartedAt:    m.StartedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	if m.FinishedAt != nil {
		at := m.FinishedAt.UTC()
		s.FinishedAt = &at
	}
	return s, nil
}

// ── Record model ──────────────────────────────────────────────────

type recordModel struct {
	bun.BaseModel `bun:"table:imagesigner_execution_records"`

	ID          string    `bun:"id,pk"`
	ExecutionID string    `bun:"execution_id,notnull"`
	Seq         int64     `bun:"seq,notnull"`
	Kind        string    `bun:"kind,notnull"`
	Definition  string    `bun:"definition,notnull"`
	TriggerID   string    `bun:"trigger_id,nullzero"`
	State       string    `bun:"state,notnull"`
	Next        string    `bun:"next,notnull"`
	Task        string    `bun:"task,notnull"`
	Attempt     int       `bun:"attempt,notnull"`
	Outcome     string    `bun:"outcome,notnull"`
	ErrorClass  string    `bun:"error_class,notnull"`
	Error       string    `bun:"error,notnull"`
	DelayNs     int64     `bun:"delay_ns,notnull"`
	Final       bool      `bun:"final,notnull"`
	Payload     string    `bun:"payload,notnull,type:jsonb"`
	At          time.Time `bun:"at,notnull"`
}

func toRecordModel(r *execlog.Record) *recordModel {
	recID := r.ID
	if recID.IsNil() {
		recID = id.NewRecordID()
	}
	return &recordModel{
		ID:          recID.String(),
		ExecutionID: r.ExecutionID.String(),
		Seq:         r.Seq,
		Kind:        string(r.Kind),
		Definition:  r.Definition,
		TriggerID:   r.Trigger.String(),
		State:       r.State,
		Next:        r.Next,
		Task:        r.Task,
		Attempt:     r.Attempt,
		Outcome:     string(r.Outcome),
		ErrorClass:  r.ErrorClass,
		Error:       r.Error,
		DelayNs:     r.Delay.Nanoseconds(),
		Final:       r.Final,
		Payload:     r.Payload.String(),
		At:          r.At.UTC(),
	}
}

func fromRecordModel(m *recordModel) (*execlog.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse record id %q: %w", m.ID, err)
	}
	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse execution id %q: %w", m.ExecutionID, err)
	}
	trigID, err := parseOptionalID(m.TriggerID, id.ParseTriggerID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse trigger id %q: %w", m.TriggerID, err)
	}
	p, err := payload.Parse([]byte(m.Payload))
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: record %s payload: %w", m.ID, err)
	}

	return &execlog.Record{
		ID:          recID,
		ExecutionID: execID,
		Seq:         m.Seq,
		Kind:        execlog.Kind(m.Kind),
		Definition:  m.Definition,
		Trigger:     trigID,
		State:       m.State,
		Next:        m.Next,
		Task:        m.Task,
		Attempt:     m.Attempt,
		Outcome:     execlog.Outcome(m.Outcome),
		ErrorClass:  m.ErrorClass,
		Error:       m.Error,
		Delay:       time.Duration(m.DelayNs),
		Final:       m.Final,
		Payload:     p,
		At:          m.At.UTC(),
	}, nil
}

// ── Trigger model ─────────────────────────────────────────────────

type triggerModel struct {
	bun.BaseModel `bun:"table:imagesigner_triggers"`

	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name,notnull,unique"`
	Expression    string    `bun:"expression,notnull"`
	TimeZone      string    `bun:"time_zone,notnull"`
	Definition    string    `bun:"definition,notnull"`
	Input         string    `bun:"input,notnull,type:jsonb"`
	Enabled       bool      `bun:"enabled,notnull"`
	MaxAttempts   int       `bun:"max_attempts,notnull"`
	MaxEventAgeNs int64     `bun:"max_event_age_ns,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toTriggerModel(t *schedule.Trigger) *triggerModel {
	return &triggerModel{
		ID:            t.ID.String(),
		Name:          t.Name,
		Expression:    t.Expression,
		TimeZone:      t.TimeZone,
		Definition:    t.Definition,
		Input:         t.Input.String(),
		Enabled:       t.Enabled,
		MaxAttempts:   t.MaxAttempts,
		MaxEventAgeNs: t.MaxEventAge.Nanoseconds(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func fromTriggerModel(m *triggerModel) (*schedule.Trigger, error) {
	trigID, err := id.ParseTriggerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: parse trigger id %q: %w", m.ID, err)
	}
	input, err := payload.Parse([]byte(m.Input))
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: trigger %s input: %w", m.ID, err)
	}
	return &schedule.Trigger{
		ID:          trigID,
		Name:        m.Name,
		Expression:  m.Expression,
		TimeZone:    m.TimeZone,
		Definition:  m.Definition,
		Input:       input,
		Enabled:     m.Enabled,
		MaxAttempts: m.MaxAttempts,
		MaxEventAge: time.Duration(m.MaxEventAgeNs),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

// ── Tick claim model ──────────────────────────────────────────────

type tickModel struct {
	bun.BaseModel `bun:"table:imagesigner_trigger_ticks"`

	TriggerID string    `bun:"trigger_id,pk"`
	Tick      time.Time `bun:"tick,pk"`
}
