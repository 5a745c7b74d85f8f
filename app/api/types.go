package api

import (
	"context"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/lysyi3m/news-comb/app/tasks"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthChecker interface {
	Health(ctx context.Context) map[string]any
}

type ItemStatsProvider interface {
	GetItemStats(ctx context.Context) (database.ItemStats, error)
}

type IndexStatsProvider interface {
	Stats() dedup.Stats
}

type Handler struct {
	configCache *sources.ConfigCache
	jobs        tasks.JobController
	items       database.ItemStore
	itemStats   ItemStatsProvider
	runs        database.RunStore
	index       IndexStatsProvider
	db          Pinger
	cache       HealthChecker
}
