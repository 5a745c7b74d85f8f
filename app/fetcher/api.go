package fetcher

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
)

var defaultFields = map[string]string{
	"title":     "title",
	"body":      "body",
	"url":       "url",
	"published": "published",
	"guid":      "id",
}

// APIFetcher calls a JSON API and maps each result object to a record.
type APIFetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewAPIFetcher(httpClient *http.Client, userAgent string) *APIFetcher {
	return &APIFetcher{httpClient: httpClient, userAgent: userAgent}
}

func (f *APIFetcher) Fetch(ctx context.Context, sourceConfig *sources.Config) (Result, error) {
	timeoutCtx, cancel := withTimeout(ctx, sourceConfig)
	defer cancel()

	headers := make(map[string]string, len(sourceConfig.API.Headers)+1)
	for k, v := range sourceConfig.API.Headers {
		headers[k] = os.Expand(v, os.Getenv)
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}

	data, err := fetchBody(timeoutCtx, f.httpClient, request{
		method:    sourceConfig.API.Method,
		url:       sourceConfig.URL,
		userAgent: cmp.Or(sourceConfig.Settings.UserAgent, f.userAgent),
		headers:   headers,
	})
	if err != nil {
		return Result{}, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: failed to decode JSON: %w", item.ErrMalformedSource, err)
	}

	entries, err := walkPath(raw, sourceConfig.API.ResultPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: walk path %q: %w", item.ErrMalformedSource, sourceConfig.API.ResultPath, err)
	}

	fields := sourceConfig.API.Fields
	if len(fields) == 0 {
		fields = defaultFields
	}

	retrievedAt := time.Now().UTC()
	var result Result
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			result.Skipped++
			continue
		}

		record := item.RawRecord{
			SourceID:    sourceConfig.Name,
			RetrievedAt: retrievedAt,
			GUID:        field(obj, fields, "guid"),
			Title:       field(obj, fields, "title"),
			Body:        field(obj, fields, "body"),
			URL:         field(obj, fields, "url"),
			PublishedAt: parseTime(field(obj, fields, "published")),
		}
		if strings.TrimSpace(record.Title) == "" && strings.TrimSpace(record.URL) == "" {
			result.Skipped++
			continue
		}
		record.GUID = cmp.Or(record.GUID, record.URL)

		result.Records = append(result.Records, record)
	}
	result.Records = limitRecords(result.Records, sourceConfig.Settings.MaxItems)

	return result, nil
}

// walkPath follows a dot separated path to the result array. An empty path
// means the document root is the array.
func walkPath(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, current)
			}
			current, ok = obj[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}

	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("result is not an array")
	}
	return arr, nil
}

func field(obj map[string]any, fields map[string]string, name string) string {
	key, ok := fields[name]
	if !ok {
		return ""
	}
	return asString(obj[key])
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
