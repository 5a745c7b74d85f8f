package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/news-comb/app/dedup"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/similarity"
	"github.com/lysyi3m/news-comb/app/sources"
)

type mockStore struct {
	mu        sync.Mutex
	items     map[string]item.CanonicalItem
	failTitle string
}

func newMockStore() *mockStore {
	return &mockStore{items: make(map[string]item.CanonicalItem)}
}

func (m *mockStore) GetRecentItems(ctx context.Context, since time.Time, limit int) ([]item.CanonicalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []item.CanonicalItem
	for _, c := range m.items {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *mockStore) UpsertItem(ctx context.Context, c item.CanonicalItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTitle != "" && c.Title == m.failTitle {
		return errors.New("connection refused")
	}
	m.items[c.ID] = c.Clone()
	return nil
}

func (m *mockStore) GetItemByFingerprint(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.HasFingerprint(fingerprint) {
			found := c.Clone()
			return &found, nil
		}
	}
	return nil, nil
}

func (m *mockStore) all() []item.CanonicalItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []item.CanonicalItem
	for _, c := range m.items {
		out = append(out, c.Clone())
	}
	return out
}

type countingAdmitter struct {
	calls int
	err   error
}

func (c *countingAdmitter) Admit(ctx context.Context, n item.NormalizedItem) (dedup.AdmitResult, error) {
	c.calls++
	return dedup.AdmitResult{}, c.err
}

func newTestPipeline(store *mockStore) *Pipeline {
	index := dedup.NewIndex(store, similarity.NewEngine(similarity.Config{Threshold: 0.85}), dedup.Config{}, nil)
	return New(index, Config{RetryBase: time.Millisecond}, nil)
}

func source(name string) *sources.Config {
	return &sources.Config{Name: name, Type: sources.TypeFeed}
}

func raw(title, url string) item.RawRecord {
	return item.RawRecord{Title: title, URL: url, RetrievedAt: time.Now()}
}

func TestIngest_NearDuplicateAcrossSources(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	p := newTestPipeline(store)

	reportA := p.Ingest(ctx, source("A"), []item.RawRecord{raw("NASA Launches New Rover", "https://www.nasa.gov/news/rover")})
	reportB := p.Ingest(ctx, source("B"), []item.RawRecord{raw("NASA launches new rover  (updated)", "https://nasa.gov/news/rover?rev=2")})

	if reportA.Created != 1 {
		t.Errorf("Expected source A to create 1 item, got %d", reportA.Created)
	}
	if reportB.Merged != 1 || reportB.Created != 0 {
		t.Errorf("Expected source B to merge 1 item, got created=%d merged=%d", reportB.Created, reportB.Merged)
	}

	items := store.all()
	if len(items) != 1 {
		t.Fatalf("Expected 1 canonical item, got %d", len(items))
	}
	if !slices.Equal(items[0].Sources, []string{"A", "B"}) {
		t.Errorf("Expected provenance [A B], got %v", items[0].Sources)
	}
	if items[0].MergeCount != 1 {
		t.Errorf("Expected merge count 1, got %d", items[0].MergeCount)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	p := newTestPipeline(store)

	batch := []item.RawRecord{
		raw("Volcano erupts in Iceland", "https://example.com/volcano"),
		raw("Stock markets rally on earnings", "https://example.com/stocks"),
		raw("New species of frog discovered", "https://example.com/frog"),
	}

	first := p.Ingest(ctx, source("A"), batch)
	if first.Created != 3 {
		t.Fatalf("Expected 3 created on first run, got %d", first.Created)
	}

	second := p.Ingest(ctx, source("A"), batch)
	if second.Created != 0 {
		t.Errorf("Expected 0 created on second run, got %d", second.Created)
	}
	if second.Merged != 3 {
		t.Errorf("Expected 3 merged on second run, got %d", second.Merged)
	}
	if len(store.all()) != 3 {
		t.Errorf("Expected 3 canonical items, got %d", len(store.all()))
	}
}

func TestIngest_OneStoreFailureInTen(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.failTitle = "Electric car sales surge"
	p := newTestPipeline(store)

	titles := []string{
		"Volcano erupts in Iceland",
		"Stock markets rally on earnings",
		"New species of frog discovered",
		"City council approves budget",
		"Electric car sales surge",
		"Championship final ends in draw",
		"Scientists map deep ocean floor",
		"Ancient manuscript found in library",
		"Heatwave grips southern Europe",
		"Telescope captures distant galaxy",
	}
	var batch []item.RawRecord
	for i, title := range titles {
		batch = append(batch, raw(title, fmt.Sprintf("https://example.com/story/%d", i)))
	}

	report := p.Ingest(ctx, source("A"), batch)

	if report.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", report.Errors)
	}
	if report.Admitted() != 9 {
		t.Errorf("Expected 9 admitted items, got %d", report.Admitted())
	}
	if report.Failed() {
		t.Errorf("Expected batch not to fail, got error %q", report.Error)
	}
	if report.Fetched != 10 {
		t.Errorf("Expected 10 fetched, got %d", report.Fetched)
	}
}

func TestIngest_FilteredAndRejected(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	p := newTestPipeline(store)

	sourceConfig := source("A")
	sourceConfig.Filters = []sources.Filter{{Field: "title", Excludes: []string{"sponsored"}}}

	report := p.Ingest(ctx, sourceConfig, []item.RawRecord{
		raw("Sponsored: best deals", "https://example.com/deals"),
		raw("", ""),
		raw("Volcano erupts in Iceland", "https://example.com/volcano"),
	})

	if report.Filtered != 1 {
		t.Errorf("Expected 1 filtered, got %d", report.Filtered)
	}
	if report.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", report.Skipped)
	}
	if report.Created != 1 {
		t.Errorf("Expected 1 created, got %d", report.Created)
	}
	if report.RunID == "" || report.Source != "A" {
		t.Errorf("Expected run ID and source to be set, got %q %q", report.RunID, report.Source)
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Error("Expected finished time after start time")
	}
}

func TestIngest_RetriesOnlyRetryableErrors(t *testing.T) {
	ctx := context.Background()

	retryable := &countingAdmitter{err: fmt.Errorf("upsert item: %w", item.ErrStoreUnavailable)}
	report := New(retryable, Config{ItemRetries: 3, RetryBase: time.Millisecond}, nil).
		Ingest(ctx, source("A"), []item.RawRecord{raw("Volcano erupts in Iceland", "https://example.com/v")})
	if retryable.calls != 3 {
		t.Errorf("Expected 3 attempts for retryable error, got %d", retryable.calls)
	}
	if report.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", report.Errors)
	}

	permanent := &countingAdmitter{err: item.ErrMalformedItem}
	New(permanent, Config{ItemRetries: 3, RetryBase: time.Millisecond}, nil).
		Ingest(ctx, source("A"), []item.RawRecord{raw("Volcano erupts in Iceland", "https://example.com/v")})
	if permanent.calls != 1 {
		t.Errorf("Expected 1 attempt for permanent error, got %d", permanent.calls)
	}
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	admitter := &countingAdmitter{}
	report := New(admitter, Config{}, nil).Ingest(ctx, source("A"), []item.RawRecord{
		raw("Volcano erupts in Iceland", "https://example.com/v"),
	})

	if !report.Failed() {
		t.Error("Expected cancelled run to report an error")
	}
	if admitter.calls != 0 {
		t.Errorf("Expected no admissions after cancellation, got %d", admitter.calls)
	}
}
