package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

const runColumns = `id, kind, status, started, finished, records_upserted, records_skipped, documents_queued, documents_failed, error_text`

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run pipeline.PipelineRun) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_runs (id, kind, status, started, finished, records_upserted, records_skipped, documents_queued, documents_failed, error_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Kind, run.Status, run.Started, run.Finished,
		run.RecordsUpserted, run.RecordsSkipped, run.DocumentsQueued,
		run.DocumentsFailed, run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun overwrites a run row.
func (s *Store) UpdateRun(ctx context.Context, run pipeline.PipelineRun) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE pipeline_runs
SET status = $2, finished = $3, records_upserted = $4, records_skipped = $5,
	documents_queued = $6, documents_failed = $7, error_text = $8
WHERE id = $1`,
		run.ID, run.Status, run.Finished, run.RecordsUpserted, run.RecordsSkipped,
		run.DocumentsQueued, run.DocumentsFailed, run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (pipeline.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)
	return scanRun(row)
}

// LastSuccessfulRun returns the most recently finished succeeded run of a kind.
func (s *Store) LastSuccessfulRun(ctx context.Context, kind pipeline.RunKind) (pipeline.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+runColumns+`
FROM pipeline_runs
WHERE kind = $1 AND status = $2 AND finished IS NOT NULL
ORDER BY finished DESC
LIMIT 1`,
		kind, pipeline.RunStatusSucceeded)
	return scanRun(row)
}

// RecordStageResult appends a stage outcome row.
func (s *Store) RecordStageResult(ctx context.Context, res pipeline.StageResult) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO stage_results (batch_id, document_id, image_id, stage, outcome, error_text, attempt, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		res.BatchID, res.DocumentID, res.ImageID, res.Stage, res.Outcome,
		res.ErrorText, res.Attempt, res.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

// ListStageResults returns all recorded results for a batch.
func (s *Store) ListStageResults(ctx context.Context, batchID string) ([]pipeline.StageResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT batch_id, document_id, image_id, stage, outcome, error_text, attempt, recorded_at
FROM stage_results
WHERE batch_id = $1
ORDER BY recorded_at`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var out []pipeline.StageResult
	for rows.Next() {
		var res pipeline.StageResult
		if err := rows.Scan(&res.BatchID, &res.DocumentID, &res.ImageID, &res.Stage,
			&res.Outcome, &res.ErrorText, &res.Attempt, &res.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage results: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (pipeline.PipelineRun, error) {
	var run pipeline.PipelineRun
	err := row.Scan(&run.ID, &run.Kind, &run.Status, &run.Started, &run.Finished,
		&run.RecordsUpserted, &run.RecordsSkipped, &run.DocumentsQueued,
		&run.DocumentsFailed, &run.ErrorText)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.PipelineRun{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.PipelineRun{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}
