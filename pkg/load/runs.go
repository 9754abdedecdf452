package load

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is an etl_runs audit record of one extraction and load.
type Run struct {
	ID              string
	SourceTableID   string
	IndicatorCode   string
	Year            int
	Status          RunStatus
	StartedAt       time.Time
	FinishedAt      time.Time
	RowsExtracted   int
	RowsTransformed int
	RowsDropped     int
	RowsDuplicate   int
	RowsSkipped     int
	RowsDeleted     int
	RowsLoaded      int
	Verdict         string
	Error           string
}

// StartRun records a running run and returns it.
func (l *Loader) StartRun(ctx context.Context, tableID, indicatorCode string, year int) (*Run, error) {
	run := &Run{
		ID:            uuid.NewString(),
		SourceTableID: tableID,
		IndicatorCode: indicatorCode,
		Year:          year,
		Status:        RunStatusRunning,
		StartedAt:     l.cfg.Clock.Now().UTC(),
	}
	if err := l.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun marks run as succeeded, or failed when runErr is set.
func (l *Loader) FinishRun(ctx context.Context, run *Run, runErr error) error {
	run.FinishedAt = l.cfg.Clock.Now().UTC()
	run.Status = RunStatusSucceeded
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}
	return l.RecordRun(ctx, run)
}

// RecordRun inserts or updates the etl_runs row of run.
func (l *Loader) RecordRun(ctx context.Context, run *Run) error {
	conn, err := l.cfg.DB.Conn(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	defer conn.Close()

	var finishedAt any
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO etl_runs (
			run_id, source_table_id, indicator_code, year, status, started_at, finished_at,
			rows_extracted, rows_transformed, rows_dropped, rows_duplicate, rows_skipped,
			rows_deleted, rows_loaded, verdict, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			rows_extracted = EXCLUDED.rows_extracted,
			rows_transformed = EXCLUDED.rows_transformed,
			rows_dropped = EXCLUDED.rows_dropped,
			rows_duplicate = EXCLUDED.rows_duplicate,
			rows_skipped = EXCLUDED.rows_skipped,
			rows_deleted = EXCLUDED.rows_deleted,
			rows_loaded = EXCLUDED.rows_loaded,
			verdict = EXCLUDED.verdict,
			error = EXCLUDED.error`,
		run.ID, run.SourceTableID, run.IndicatorCode, run.Year, string(run.Status), run.StartedAt, finishedAt,
		run.RowsExtracted, run.RowsTransformed, run.RowsDropped, run.RowsDuplicate, run.RowsSkipped,
		run.RowsDeleted, run.RowsLoaded, run.Verdict, run.Error)
	if err != nil {
		return &ConnectionError{Op: "record run", Err: err}
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (l *Loader) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	conn, err := l.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT run_id, source_table_id, indicator_code, year, status, started_at, finished_at,
			rows_extracted, rows_transformed, rows_dropped, rows_duplicate, rows_skipped,
			rows_deleted, rows_loaded, verdict, error
		FROM etl_runs
		ORDER BY started_at DESC, run_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			status     string
			finishedAt sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.SourceTableID, &run.IndicatorCode, &run.Year, &status, &run.StartedAt, &finishedAt,
			&run.RowsExtracted, &run.RowsTransformed, &run.RowsDropped, &run.RowsDuplicate, &run.RowsSkipped,
			&run.RowsDeleted, &run.RowsLoaded, &run.Verdict, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = RunStatus(status)
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
