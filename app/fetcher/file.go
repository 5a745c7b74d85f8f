package fetcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
	"gopkg.in/yaml.v3"
)

// FileFetcher reads admin-entered items from a local YAML file. A missing
// file yields no items.
type FileFetcher struct{}

func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

type fileEntry struct {
	GUID       string   `yaml:"guid"`
	Title      string   `yaml:"title"`
	Body       string   `yaml:"body"`
	URL        string   `yaml:"url"`
	Authors    []string `yaml:"authors"`
	Categories []string `yaml:"categories"`
	Published  string   `yaml:"published"`
}

func (f *FileFetcher) Fetch(ctx context.Context, sourceConfig *sources.Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", item.ErrTransientNetwork, err)
	}

	path := strings.TrimPrefix(sourceConfig.URL, "file://")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to read file: %w", item.ErrMalformedSource, err)
	}

	var entries []fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return Result{}, fmt.Errorf("%w: failed to parse YAML: %w", item.ErrMalformedSource, err)
	}

	retrievedAt := time.Now().UTC()
	var result Result
	for _, entry := range entries {
		if strings.TrimSpace(entry.Title) == "" && strings.TrimSpace(entry.URL) == "" {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, item.RawRecord{
			SourceID:    sourceConfig.Name,
			RetrievedAt: retrievedAt,
			GUID:        cmp.Or(entry.GUID, entry.URL),
			Title:       entry.Title,
			Body:        entry.Body,
			URL:         entry.URL,
			Authors:     entry.Authors,
			Categories:  entry.Categories,
			PublishedAt: parseTime(entry.Published),
		})
	}
	result.Records = limitRecords(result.Records, sourceConfig.Settings.MaxItems)

	return result, nil
}
