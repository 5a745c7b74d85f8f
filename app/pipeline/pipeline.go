// Package pipeline runs one batch of fetched records through filtering,
// normalization and admission, and summarizes the outcome.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/normalize"
	"github.com/lysyi3m/news-comb/app/sources"
)

type Admitter interface {
	Admit(ctx context.Context, n item.NormalizedItem) (dedup.AdmitResult, error)
}

type Config struct {
	ItemRetries int
	RetryBase   time.Duration
}

func (c *Config) defaults() {
	if c.ItemRetries <= 0 {
		c.ItemRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 100 * time.Millisecond
	}
}

type Pipeline struct {
	normalizer *normalize.Normalizer
	filterer   *sources.Filterer
	index      Admitter
	cfg        Config
	logger     *slog.Logger

	now func() time.Time
}

func New(index Admitter, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		normalizer: normalize.NewNormalizer(),
		filterer:   sources.NewFilterer(),
		index:      index,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest processes records in order. A failed item is counted and the
// batch continues; only cancellation stops it early.
func (p *Pipeline) Ingest(ctx context.Context, sourceConfig *sources.Config, records []item.RawRecord) item.IngestReport {
	report := item.IngestReport{
		RunID:     uuid.NewString(),
		Source:    sourceConfig.Name,
		StartedAt: p.now().UTC(),
		Fetched:   len(records),
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			report.Error = item.Classify(err).Error()
			break
		}

		if record.SourceID == "" {
			record.SourceID = sourceConfig.Name
		}

		if filtered, reason := p.filterer.Check(record, sourceConfig); filtered {
			report.Filtered++
			p.logger.Debug("Item filtered", "source", sourceConfig.Name, "title", record.Title, "reason", reason)
			continue
		}

		normalized := p.normalizer.Run(record)

		result, err := p.admit(ctx, normalized)
		if err != nil {
			report.Errors++
			p.logger.Error("Failed to admit item", "source", sourceConfig.Name, "title", record.Title,
				"fingerprint", normalized.Fingerprint, "error", err)
			continue
		}

		switch result.Outcome {
		case item.OutcomeCreated:
			report.Created++
		case item.OutcomeMerged:
			report.Merged++
			p.logger.Debug("Item merged", "source", sourceConfig.Name, "title", record.Title,
				"item_id", result.Item.ID, "score", result.Score)
		case item.OutcomeRejected:
			report.Skipped++
			p.logger.Debug("Item rejected", "source", sourceConfig.Name, "guid", record.GUID,
				"error", item.ErrMalformedItem)
		}
	}

	report.FinishedAt = p.now().UTC()
	return report
}

// admit retries retryable failures with doubling delays.
func (p *Pipeline) admit(ctx context.Context, n item.NormalizedItem) (dedup.AdmitResult, error) {
	delay := p.cfg.RetryBase

	var lastErr error
	for attempt := 1; attempt <= p.cfg.ItemRetries; attempt++ {
		result, err := p.index.Admit(ctx, n)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !item.IsRetryable(err) || attempt == p.cfg.ItemRetries {
			break
		}

		p.logger.Warn("Item admission retry scheduled", "fingerprint", n.Fingerprint,
			"attempt", attempt, "max_attempts", p.cfg.ItemRetries, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return dedup.AdmitResult{}, item.Classify(ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return dedup.AdmitResult{}, lastErr
}
