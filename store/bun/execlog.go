package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

// Append adds r to the log of its execution and folds it into the
// execution summary in the same transaction.
func (s *Store) Append(ctx context.Context, r *execlog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sum, insert, err := lockSummary(ctx, tx, r)
		if err != nil {
			return err
		}
		sum.Apply(r)

		m := toExecutionModel(sum)
		if insert {
			_, err = tx.NewInsert().Model(m).Exec(ctx)
		} else {
			_, err = tx.NewUpdate().Model(m).WherePK().Exec(ctx)
		}
		if err != nil {
			return err
		}

		_, err = tx.NewInsert().Model(toRecordModel(r)).Exec(ctx)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("ingestion/bun: %s seq %d: %w", r.ExecutionID, r.Seq, ingestion.ErrDuplicateRecord)
		}
		return fmt.Errorf("ingestion/bun: append: %w", err)
	}
	return nil
}

// lockSummary returns the summary r applies to, locked for update, and
// whether it still has to be inserted.
func lockSummary(ctx context.Context, tx bun.Tx, r *execlog.Record) (*execlog.Summary, bool, error) {
	m := new(executionModel)
	err := tx.NewSelect().Model(m).
		Where("id = ?", r.ExecutionID.String()).
		For("UPDATE").
		Scan(ctx)
	switch {
	case isNoRows(err):
		if r.Kind != execlog.KindExecutionStarted {
			return nil, false, fmt.Errorf("first record of %s is %s: %w", r.ExecutionID, r.Kind, ingestion.ErrExecutionNotFound)
		}
		if r.Seq != 1 {
			return nil, false, fmt.Errorf("%s seq %d out of order, want 1", r.ExecutionID, r.Seq)
		}
		return &execlog.Summary{}, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("lock execution: %w", err)
	}

	switch {
	case r.Seq <= m.LastSeq:
		return nil, false, fmt.Errorf("%s seq %d: %w", r.ExecutionID, r.Seq, ingestion.ErrDuplicateRecord)
	case r.Seq != m.LastSeq+1:
		return nil, false, fmt.Errorf("%s seq %d out of order, want %d", r.ExecutionID, r.Seq, m.LastSeq+1)
	}

	sum, err := fromExecutionModel(m)
	if err != nil {
		return nil, false, err
	}
	return sum, false, nil
}

// Query returns the records of one execution ordered by Seq.
func (s *Store) Query(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	var models []recordModel
	err := s.db.NewSelect().Model(&models).
		Where("execution_id = ?", executionID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion/bun: query records: %w", err)
	}
	if len(models) == 0 {
		return nil, ingestion.ErrExecutionNotFound
	}

	records := make([]*execlog.Record, 0, len(models))
	for i := range models {
		r, convErr := fromRecordModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		records = append(records, r)
	}
	return records, nil
}

// GetExecution returns the summary of one execution.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*execlog.Summary, error) {
	m := new(executionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", executionID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ingestion.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("ingestion/bun: get execution: %w", err)
	}
	return fromExecutionModel(m)
}

// ListExecutions returns summaries, most recently started first.
func (s *Store) ListExecutions(ctx context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error) {
	var models []executionModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Definition != "" {
		q = q.Where("definition = ?", opts.Definition)
	}

	q = q.OrderExpr("started_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ingestion/bun: list executions: %w", err)
	}

	result := make([]*execlog.Summary, 0, len(models))
	for i := range models {
		sum, convErr := fromExecutionModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("ingestion/bun: list executions convert: %w", convErr)
		}
		result = append(result, sum)
	}
	return result, nil
}
