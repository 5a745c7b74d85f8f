// Package fetcher turns a configured source into raw records. Every
// failure is reported through the item error taxonomy.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
)

const maxBodyBytes = 10 * 1024 * 1024

type Result struct {
	Records []item.RawRecord
	Skipped int // entries dropped as malformed
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceConfig *sources.Config) (Result, error)
}

// Registry selects a Fetcher by source type.
type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry(httpClient *http.Client, userAgent string) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher)}
	r.Register(sources.TypeFeed, NewFeedFetcher(httpClient, userAgent))
	r.Register(sources.TypeAPI, NewAPIFetcher(httpClient, userAgent))
	r.Register(sources.TypeFile, NewFileFetcher())
	return r
}

func (r *Registry) Register(sourceType string, f Fetcher) {
	r.fetchers[sourceType] = f
}

func (r *Registry) Fetch(ctx context.Context, sourceConfig *sources.Config) (Result, error) {
	f, ok := r.fetchers[sourceConfig.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: no fetcher for source type %q", item.ErrMalformedSource, sourceConfig.Type)
	}
	return f.Fetch(ctx, sourceConfig)
}

type request struct {
	method    string
	url       string
	userAgent string
	headers   map[string]string
}

func fetchBody(ctx context.Context, httpClient *http.Client, r request) ([]byte, error) {
	method := r.method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", item.ErrMalformedSource, err)
	}

	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %w", item.ErrTransientNetwork, r.url, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%w: HTTP error: %d %s", err, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", item.ErrTransientNetwork, err)
	}

	return data, nil
}

// classifyStatus maps an HTTP status onto the error taxonomy. 2xx and 3xx
// are not errors.
func classifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return item.ErrAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return item.ErrTransientNetwork
	default:
		return item.ErrMalformedSource
	}
}

func withTimeout(ctx context.Context, sourceConfig *sources.Config) (context.Context, context.CancelFunc) {
	timeout := sourceConfig.TimeoutDuration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func limitRecords(records []item.RawRecord, maxItems int) []item.RawRecord {
	if maxItems > 0 && len(records) > maxItems {
		return records[:maxItems]
	}
	return records
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
