package fetcher

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/mmcdole/gofeed"
)

// FeedFetcher reads RSS, Atom and JSON Feed documents.
type FeedFetcher struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string
}

func NewFeedFetcher(httpClient *http.Client, userAgent string) *FeedFetcher {
	return &FeedFetcher{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		userAgent:  userAgent,
	}
}

func (f *FeedFetcher) Fetch(ctx context.Context, sourceConfig *sources.Config) (Result, error) {
	timeoutCtx, cancel := withTimeout(ctx, sourceConfig)
	defer cancel()

	data, err := fetchBody(timeoutCtx, f.httpClient, request{
		url:       sourceConfig.URL,
		userAgent: cmp.Or(sourceConfig.Settings.UserAgent, f.userAgent),
	})
	if err != nil {
		return Result{}, err
	}

	feed, err := f.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to parse feed: %w", item.ErrMalformedSource, err)
	}

	retrievedAt := time.Now().UTC()
	var result Result
	for _, entry := range feed.Items {
		if entry == nil || (strings.TrimSpace(entry.Title) == "" && strings.TrimSpace(entry.Link) == "") {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, f.toRecord(entry, sourceConfig.Name, retrievedAt))
	}
	result.Records = limitRecords(result.Records, sourceConfig.Settings.MaxItems)

	if sourceConfig.Settings.ExtractContent {
		f.extractContent(ctx, sourceConfig, result.Records)
	}

	return result, nil
}

func (f *FeedFetcher) toRecord(entry *gofeed.Item, sourceID string, retrievedAt time.Time) item.RawRecord {
	record := item.RawRecord{
		SourceID:    sourceID,
		RetrievedAt: retrievedAt,
		GUID:        cmp.Or(entry.GUID, entry.Link),
		Title:       entry.Title,
		Body:        cmp.Or(entry.Content, entry.Description),
		URL:         entry.Link,
		Authors:     extractAuthors(entry),
		Categories:  entry.Categories,
	}

	if entry.PublishedParsed != nil {
		published := entry.PublishedParsed.UTC()
		record.PublishedAt = &published
	} else if entry.UpdatedParsed != nil {
		updated := entry.UpdatedParsed.UTC()
		record.PublishedAt = &updated
	}

	return record
}

// extractContent fills empty bodies with the readable text of the linked
// page. Failures leave the record as it is.
func (f *FeedFetcher) extractContent(ctx context.Context, sourceConfig *sources.Config, records []item.RawRecord) {
	for i := range records {
		if records[i].Body != "" || records[i].URL == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		text, err := f.extractPage(ctx, sourceConfig, records[i].URL)
		if err != nil {
			slog.Debug("Failed to extract content", "source", sourceConfig.Name, "url", records[i].URL, "error", err)
			continue
		}
		records[i].Body = text
	}
}

func (f *FeedFetcher) extractPage(ctx context.Context, sourceConfig *sources.Config, pageURL string) (string, error) {
	timeoutCtx, cancel := withTimeout(ctx, sourceConfig)
	defer cancel()

	data, err := fetchBody(timeoutCtx, f.httpClient, request{
		url:       pageURL,
		userAgent: cmp.Or(sourceConfig.Settings.UserAgent, f.userAgent),
	})
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}
	return text, nil
}

func extractAuthors(entry *gofeed.Item) []string {
	var authors []string

	if len(entry.Authors) > 0 {
		for _, author := range entry.Authors {
			if author != nil {
				if s := formatAuthor(author.Name, author.Email); s != "" {
					authors = append(authors, s)
				}
			}
		}
	} else if entry.Author != nil {
		if s := formatAuthor(entry.Author.Name, entry.Author.Email); s != "" {
			authors = append(authors, s)
		}
	}

	return authors
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	}
	return email
}
