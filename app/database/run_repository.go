package database

import (
	"context"
	"fmt"

	"github.com/lysyi3m/news-comb/app/item"
)

// RunRepository keeps the history of ingest runs
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) SaveRun(ctx context.Context, report item.IngestReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (
			run_id, source, started_at, finished_at,
			fetched, created, merged, skipped, filtered, errors, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.Source, toMillis(report.StartedAt), toMillis(report.FinishedAt),
		report.Fetched, report.Created, report.Merged, report.Skipped, report.Filtered, report.Errors,
		report.Error)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRuns returns the latest runs, optionally restricted to one source.
func (r *RunRepository) GetRuns(ctx context.Context, source string, limit int) ([]item.IngestReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, source, started_at, finished_at,
		       fetched, created, merged, skipped, filtered, errors, error
		FROM ingest_runs
		WHERE ? = '' OR source = ?
		ORDER BY started_at DESC, run_id
		LIMIT ?
	`, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs: %w", err)
	}
	defer rows.Close()

	var runs []item.IngestReport
	for rows.Next() {
		var (
			run                 item.IngestReport
			startedAt, finished int64
		)
		err := rows.Scan(&run.RunID, &run.Source, &startedAt, &finished,
			&run.Fetched, &run.Created, &run.Merged, &run.Skipped, &run.Filtered, &run.Errors, &run.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.StartedAt = fromMillis(startedAt)
		run.FinishedAt = fromMillis(finished)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, nil
}
