// Package report delivers IngestReports to their sinks.
package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/item"
)

type Reporter interface {
	Report(ctx context.Context, report item.IngestReport) error
}

// LogReporter writes one structured line per run.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, report item.IngestReport) error {
	attrs := []any{
		"run_id", report.RunID,
		"source", report.Source,
		"duration", report.Duration(),
		"fetched", report.Fetched,
		"created", report.Created,
		"merged", report.Merged,
		"skipped", report.Skipped,
		"filtered", report.Filtered,
		"errors", report.Errors,
	}

	if report.Failed() {
		r.logger.Warn("Ingest run failed", append(attrs, "error", report.Error)...)
		return nil
	}
	r.logger.Info("Ingest run finished", attrs...)
	return nil
}

// StoreReporter keeps the run history in the database.
type StoreReporter struct {
	store database.RunStore
}

func NewStoreReporter(store database.RunStore) *StoreReporter {
	return &StoreReporter{store: store}
}

func (r *StoreReporter) Report(ctx context.Context, report item.IngestReport) error {
	return r.store.SaveRun(ctx, report)
}

// Multi fans a report out to every sink. All sinks are tried.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, report item.IngestReport) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
