package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SourceRepository persists scheduler state per source
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

func (r *SourceRepository) GetSource(ctx context.Context, name string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, type, url, state, next_run_at, failure_count, structural_failures, last_error, last_run_at, created_at, updated_at
		FROM sources
		WHERE name = ?
	`, name)

	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &s, nil
}

func (r *SourceRepository) GetSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, type, url, state, next_run_at, failure_count, structural_failures, last_error, last_run_at, created_at, updated_at
		FROM sources
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

// SaveSource inserts or updates the state of a source.
func (r *SourceRepository) SaveSource(ctx context.Context, s Source) error {
	now := time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (name, type, url, state, next_run_at, failure_count, structural_failures, last_error, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			type = excluded.type,
			url = excluded.url,
			state = excluded.state,
			next_run_at = excluded.next_run_at,
			failure_count = excluded.failure_count,
			structural_failures = excluded.structural_failures,
			last_error = excluded.last_error,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at
	`, s.Name, s.Type, s.URL, s.State, nullMillis(s.NextRunAt), s.FailureCount, s.StructuralFailures, s.LastError,
		nullMillis(s.LastRunAt), toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	return nil
}

func scanSource(row rowScanner) (Source, error) {
	var (
		s                    Source
		nextRun, lastRun     sql.NullInt64
		createdAt, updatedAt int64
	)

	err := row.Scan(&s.Name, &s.Type, &s.URL, &s.State, &nextRun, &s.FailureCount, &s.StructuralFailures, &s.LastError,
		&lastRun, &createdAt, &updatedAt)
	if err != nil {
		return Source{}, err
	}

	s.NextRunAt = timePtr(nextRun)
	s.LastRunAt = timePtr(lastRun)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)

	return s, nil
}
