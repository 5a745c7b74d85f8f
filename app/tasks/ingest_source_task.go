package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/news-comb/app/fetcher"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
)

const maxRetryDelay = 30 * time.Second

type IngestSourceTask struct {
	Task
	SourceConfig *sources.Config
	fetcher      Fetcher
	pipeline     Ingester
	reporter     Reporter
	retryBase    time.Duration

	Report item.IngestReport
}

func NewIngestSourceTask(sourceConfig *sources.Config, fetcher Fetcher, pipeline Ingester, reporter Reporter, maxRetries int, retryBase time.Duration) *IngestSourceTask {
	task := NewTask(TaskTypeIngestSource, sourceConfig.Name)
	task.MaxRetries = maxRetries

	return &IngestSourceTask{
		Task:         task,
		SourceConfig: sourceConfig,
		fetcher:      fetcher,
		pipeline:     pipeline,
		reporter:     reporter,
		retryBase:    retryBase,
	}
}

// Execute fetches the source and ingests the records. The returned error
// decides the job's next state.
func (t *IngestSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return item.Classify(ctx.Err())
	default:
	}

	startedAt := time.Now().UTC()

	result, err := t.fetch(ctx)
	if err != nil {
		t.Report = item.IngestReport{
			RunID:      uuid.NewString(),
			Source:     t.SourceName,
			StartedAt:  startedAt,
			FinishedAt: time.Now().UTC(),
			Error:      err.Error(),
		}
		t.report(ctx)
		return fmt.Errorf("failed to fetch source: %w", err)
	}

	report := t.pipeline.Ingest(ctx, t.SourceConfig, result.Records)
	report.StartedAt = startedAt
	report.Fetched += result.Skipped
	report.Skipped += result.Skipped
	t.Report = report
	t.report(ctx)

	slog.Info("Task completed",
		"type", "IngestSource",
		"source", t.SourceName,
		"duration", t.GetDuration(),
		"fetched", report.Fetched,
		"created", report.Created,
		"merged", report.Merged,
		"skipped", report.Skipped,
		"filtered", report.Filtered,
		"errors", report.Errors)

	if report.Failed() {
		return fmt.Errorf("ingest interrupted: %s", report.Error)
	}
	return nil
}

// fetch retries retryable failures with a doubling delay capped at 30s.
func (t *IngestSourceTask) fetch(ctx context.Context) (fetcher.Result, error) {
	for {
		result, err := t.fetcher.Fetch(ctx, t.SourceConfig)
		if err == nil {
			return result, nil
		}

		err = item.Classify(err)
		if !item.IsRetryable(err) || !t.CanRetry() || ctx.Err() != nil {
			return fetcher.Result{}, err
		}

		t.IncrementRetryCount()
		retryDelay := t.retryBase * time.Duration(1<<uint(t.GetRetryCount()-1))
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}

		slog.Warn("Fetch retry scheduled", "source", t.SourceName, "retry_count", t.GetRetryCount(),
			"max_retries", t.GetMaxRetries(), "delay", retryDelay.String(), "error", err)

		select {
		case <-ctx.Done():
			return fetcher.Result{}, item.Classify(ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// report hands the report to the sinks. A sink failure is logged and does
// not fail the run.
func (t *IngestSourceTask) report(ctx context.Context) {
	if t.reporter == nil {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := t.reporter.Report(reportCtx, t.Report); err != nil {
		slog.Warn("Failed to report ingest run", "source", t.SourceName, "run_id", t.Report.RunID, "error", err)
	}
}
