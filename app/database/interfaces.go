package database

import (
	"context"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
)

// ItemStore is everything the ingestion path needs from durable storage.
// GetItemByFingerprint matches primary and alternate fingerprints and
// returns nil, nil when nothing matches.
type ItemStore interface {
	GetRecentItems(ctx context.Context, since time.Time, limit int) ([]item.CanonicalItem, error)
	UpsertItem(ctx context.Context, c item.CanonicalItem) error
	GetItemByFingerprint(ctx context.Context, fingerprint string) (*item.CanonicalItem, error)
}

type SourceStore interface {
	GetSource(ctx context.Context, name string) (*Source, error)
	GetSources(ctx context.Context) ([]Source, error)
	SaveSource(ctx context.Context, s Source) error
}

type RunStore interface {
	SaveRun(ctx context.Context, r item.IngestReport) error
	GetRuns(ctx context.Context, source string, limit int) ([]item.IngestReport, error)
}
