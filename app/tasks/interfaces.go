package tasks

import (
	"context"

	"github.com/lysyi3m/news-comb/app/fetcher"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to manage background ingestion.
// Example usage:
//
//	scheduler := NewScheduler(configCache, sourceRepo, registry, pipeline, reporter, Config{}, nil)
//	scheduler.Load(ctx)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// JobController is the operator view of the scheduler.
type JobController interface {
	Jobs() []FetchJob
	Job(name string) (FetchJob, bool)
	Enable(ctx context.Context, name string) error
	RunNow(name string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceConfig *sources.Config) (fetcher.Result, error)
}

type Ingester interface {
	Ingest(ctx context.Context, sourceConfig *sources.Config, records []item.RawRecord) item.IngestReport
}

type Reporter interface {
	Report(ctx context.Context, report item.IngestReport) error
}
