package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
)

const summaryColumns = `
	id, definition, trigger_id, status, current_state, payload, attempts,
	error_class, error, last_seq, started_at, updated_at, finished_at`

const recordColumns = `
	id, execution_id, seq, kind, definition, trigger_id, state, next, task,
	attempt, outcome, error_class, error, delay_ns, final, payload, at`

// Append adds r to the log of its execution and folds it into the
// execution summary in the same transaction.
func (s *Store) Append(ctx context.Context, r *execlog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sum, err := s.lockSummary(ctx, tx, r)
		if err != nil {
			return err
		}
		sum.Apply(r)
		if err := writeSummary(ctx, tx, sum, r.Kind == execlog.KindExecutionStarted); err != nil {
			return err
		}
		return insertRecord(ctx, tx, r)
	})
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("ingestion/postgres: %s seq %d: %w", r.ExecutionID, r.Seq, ingestion.ErrDuplicateRecord)
		}
		return err
	}
	return nil
}

// lockSummary returns the summary r applies to, locked for update. The
// first record of an execution starts from an empty summary.
func (s *Store) lockSummary(ctx context.Context, tx pgx.Tx, r *execlog.Record) (*execlog.Summary, error) {
	row := tx.QueryRow(ctx,
		`SELECT`+summaryColumns+` FROM imagesigner_executions WHERE id = $1 FOR UPDATE`,
		r.ExecutionID.String(),
	)
	sum, err := scanSummary(row)
	switch {
	case isNoRows(err):
		if r.Kind != execlog.KindExecutionStarted {
			return nil, fmt.Errorf("ingestion/postgres: first record of %s is %s: %w", r.ExecutionID, r.Kind, ingestion.ErrExecutionNotFound)
		}
		if r.Seq != 1 {
			return nil, fmt.Errorf("ingestion/postgres: %s seq %d out of order, want 1", r.ExecutionID, r.Seq)
		}
		return &execlog.Summary{}, nil
	case err != nil:
		return nil, fmt.Errorf("ingestion/postgres: lock execution: %w", err)
	}

	switch {
	case r.Seq <= sum.LastSeq:
		return nil, fmt.Errorf("ingestion/postgres: %s seq %d: %w", r.ExecutionID, r.Seq, ingestion.ErrDuplicateRecord)
	case r.Seq != sum.LastSeq+1:
		return nil, fmt.Errorf("ingestion/postgres: %s seq %d out of order, want %d", r.ExecutionID, r.Seq, sum.LastSeq+1)
	}
	return sum, nil
}

func writeSummary(ctx context.Context, tx pgx.Tx, sum *execlog.Summary, insert bool) error {
	args := []any{
		sum.ID.String(), sum.Definition, sum.Trigger, string(sum.Status),
		sum.CurrentState, sum.Payload.String(), sum.Attempts,
		sum.ErrorClass, sum.Error, sum.LastSeq,
		sum.StartedAt, sum.UpdatedAt, sum.FinishedAt,
	}
	if insert {
		_, err := tx.Exec(ctx, `
			INSERT INTO imagesigner_executions (`+summaryColumns+`
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			args...,
		)
		if err != nil && !isDuplicateKey(err) {
			return fmt.Errorf("ingestion/postgres: insert execution: %w", err)
		}
		return err
	}

	_, err := tx.Exec(ctx, `
		UPDATE imagesigner_executions SET
			definition = $2, trigger_id = $3, status = $4, current_state = $5,
			payload = $6, attempts = $7, error_class = $8, error = $9,
			last_seq = $10, started_at = $11, updated_at = $12, finished_at = $13
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("ingestion/postgres: update execution: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, r *execlog.Record) error {
	recID := r.ID
	if recID.IsNil() {
		recID = id.NewRecordID()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO imagesigner_execution_records (`+recordColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17
		)`,
		recID.String(), r.ExecutionID.String(), r.Seq, string(r.Kind), r.Definition,
		r.Trigger, r.State, r.Next, r.Task,
		r.Attempt, string(r.Outcome), r.ErrorClass, r.Error, r.Delay.Nanoseconds(), r.Final,
		r.Payload.String(), r.At.UTC(),
	)
	if err != nil && !isDuplicateKey(err) {
		return fmt.Errorf("ingestion/postgres: insert record: %w", err)
	}
	return err
}

// Query returns the records of one execution ordered by Seq.
func (s *Store) Query(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+recordColumns+` FROM imagesigner_execution_records WHERE execution_id = $1 ORDER BY seq ASC`,
		executionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ingestion/postgres: query records: %w", err)
	}
	defer rows.Close()

	var records []*execlog.Record
	for rows.Next() {
		r, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ingestion/postgres: scan record row: %w", scanErr)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: iterate record rows: %w", err)
	}
	if len(records) == 0 {
		return nil, ingestion.ErrExecutionNotFound
	}
	return records, nil
}

// GetExecution returns the summary of one execution.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*execlog.Summary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+summaryColumns+` FROM imagesigner_executions WHERE id = $1`,
		executionID.String(),
	)
	sum, err := scanSummary(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ingestion.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("ingestion/postgres: get execution: %w", err)
	}
	return sum, nil
}

// ListExecutions returns summaries, most recently started first.
func (s *Store) ListExecutions(ctx context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Definition != "" {
		args = append(args, opts.Definition)
		where = append(where, fmt.Sprintf("definition = $%d", len(args)))
	}

	var q strings.Builder
	q.WriteString(`SELECT` + summaryColumns + ` FROM imagesigner_executions`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY started_at DESC, id DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&q, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ingestion/postgres: list executions: %w", err)
	}
	defer rows.Close()

	result := []*execlog.Summary{}
	for rows.Next() {
		sum, scanErr := scanSummary(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ingestion/postgres: scan execution row: %w", scanErr)
		}
		result = append(result, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: iterate execution rows: %w", err)
	}
	return result, nil
}

func scanSummary(row pgx.Row) (*execlog.Summary, error) {
	var (
		sum        execlog.Summary
		idStr      string
		statusStr  string
		payloadRaw []byte
	)
	err := row.Scan(
		&idStr, &sum.Definition, &sum.Trigger, &statusStr, &sum.CurrentState,
		&payloadRaw, &sum.Attempts, &sum.ErrorClass, &sum.Error, &sum.LastSeq,
		&sum.StartedAt, &sum.UpdatedAt, &sum.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseExecutionID(idStr)
	if err != nil {
		return nil, fmt.Errorf("ingestion/postgres: parse execution id %q: %w", idStr, err)
	}
	sum.ID = parsedID
	sum.Status = execlog.Status(statusStr)
	if sum.Payload, err = payload.Parse(payloadRaw); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: execution %s payload: %w", idStr, err)
	}
	sum.StartedAt = sum.StartedAt.UTC()
	sum.UpdatedAt = sum.UpdatedAt.UTC()
	sum.FinishedAt = utcPtr(sum.FinishedAt)
	return &sum, nil
}

func scanRecord(row pgx.Row) (*execlog.Record, error) {
	var (
		r          execlog.Record
		idStr      string
		execStr    string
		kindStr    string
		outcomeStr string
		delayNs    int64
		payloadRaw []byte
	)
	err := row.Scan(
		&idStr, &execStr, &r.Seq, &kindStr, &r.Definition, &r.Trigger,
		&r.State, &r.Next, &r.Task, &r.Attempt, &outcomeStr,
		&r.ErrorClass, &r.Error, &delayNs, &r.Final, &payloadRaw, &r.At,
	)
	if err != nil {
		return nil, err
	}

	if r.ID, err = id.ParseRecordID(idStr); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: parse record id %q: %w", idStr, err)
	}
	if r.ExecutionID, err = id.ParseExecutionID(execStr); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: parse execution id %q: %w", execStr, err)
	}
	if r.Payload, err = payload.Parse(payloadRaw); err != nil {
		return nil, fmt.Errorf("ingestion/postgres: record %s payload: %w", idStr, err)
	}
	r.Kind = execlog.Kind(kindStr)
	r.Outcome = execlog.Outcome(outcomeStr)
	r.Delay = time.Duration(delayNs)
	r.At = r.At.UTC()
	return &r, nil
}
