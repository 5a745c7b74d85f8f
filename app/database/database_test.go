package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func testItem(id, fingerprint string, lastSeen time.Time) item.CanonicalItem {
	return item.CanonicalItem{
		ID:             id,
		Fingerprint:    fingerprint,
		CanonicalKey:   "title " + id + "|example.com",
		CanonicalTitle: "title " + id,
		Title:          "Title " + id,
		Link:           "https://example.com/" + id,
		Host:           "example.com",
		FirstSeenAt:    lastSeen,
		LastSeenAt:     lastSeen,
		Sources:        []string{"feed-a"},
	}
}

func TestRunMigrations(t *testing.T) {
	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("Expected version 2 clean, got %d dirty=%v", version, dirty)
	}

	// Second run is a no-op
	version, _, err = RunMigrations(db)
	if err != nil {
		t.Fatalf("Expected no error on second run, got %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
}

func TestItemRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))

	now := time.Now().UTC().Truncate(time.Millisecond)
	published := now.Add(-time.Hour)

	c := testItem("item-1", "fp-1", now)
	c.PublishedAt = &published

	if err := repo.UpsertItem(ctx, c); err != nil {
		t.Fatalf("Failed to upsert item: %v", err)
	}

	got, err := repo.GetItemByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got == nil {
		t.Fatal("Expected item, got nil")
	}
	if got.ID != "item-1" || got.Title != "Title item-1" {
		t.Errorf("Unexpected item: %+v", got)
	}
	if !got.LastSeenAt.Equal(now) {
		t.Errorf("Expected last seen %v, got %v", now, got.LastSeenAt)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(published) {
		t.Errorf("Expected published %v, got %v", published, got.PublishedAt)
	}
	if len(got.Sources) != 1 || got.Sources[0] != "feed-a" {
		t.Errorf("Expected sources [feed-a], got %v", got.Sources)
	}
	if len(got.AltFingerprints) != 0 {
		t.Errorf("Expected no alternates, got %v", got.AltFingerprints)
	}

	missing, err := repo.GetItemByFingerprint(ctx, "nope")
	if err != nil {
		t.Fatalf("Expected no error for missing item, got %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing item, got %+v", missing)
	}
}

func TestItemRepository_MergeUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))

	now := time.Now().UTC().Truncate(time.Millisecond)
	c := testItem("item-1", "fp-1", now)
	if err := repo.UpsertItem(ctx, c); err != nil {
		t.Fatalf("Failed to upsert item: %v", err)
	}

	c.LastSeenAt = now.Add(time.Minute)
	c.Sources = append(c.Sources, "feed-b")
	c.MergeCount = 1
	c.AltFingerprints = []string{"fp-2"}
	if err := repo.UpsertItem(ctx, c); err != nil {
		t.Fatalf("Failed to update item: %v", err)
	}

	got, err := repo.GetItemByFingerprint(ctx, "fp-2")
	if err != nil || got == nil {
		t.Fatalf("Expected item by alternate fingerprint, got %v, %v", got, err)
	}
	if got.ID != "item-1" {
		t.Errorf("Expected item-1, got %s", got.ID)
	}
	if got.MergeCount != 1 {
		t.Errorf("Expected merge count 1, got %d", got.MergeCount)
	}
	if len(got.Sources) != 2 || got.Sources[1] != "feed-b" {
		t.Errorf("Expected sources [feed-a feed-b], got %v", got.Sources)
	}
	if len(got.AltFingerprints) != 1 || got.AltFingerprints[0] != "fp-2" {
		t.Errorf("Expected alternates [fp-2], got %v", got.AltFingerprints)
	}
	if got.Fingerprint != "fp-1" {
		t.Errorf("Expected primary fingerprint fp-1, got %s", got.Fingerprint)
	}

	stats, err := repo.GetItemStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Total != 1 || stats.Merged != 1 || stats.MergeTotal != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestItemRepository_GetRecentItems(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, age := range []time.Duration{0, time.Hour, 48 * time.Hour, 10 * 24 * time.Hour} {
		c := testItem(string(rune('a'+i)), "fp-"+string(rune('a'+i)), now.Add(-age))
		if err := repo.UpsertItem(ctx, c); err != nil {
			t.Fatalf("Failed to upsert item: %v", err)
		}
	}

	items, err := repo.GetRecentItems(ctx, now.Add(-7*24*time.Hour), 100)
	if err != nil {
		t.Fatalf("Failed to get recent items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items inside the window, got %d", len(items))
	}
	if items[0].ID != "a" || items[2].ID != "c" {
		t.Errorf("Expected most recent first, got %s..%s", items[0].ID, items[2].ID)
	}

	limited, err := repo.GetRecentItems(ctx, now.Add(-7*24*time.Hour), 2)
	if err != nil {
		t.Fatalf("Failed to get recent items: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestItemRepository_FingerprintOwnership(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))

	now := time.Now().UTC()
	first := testItem("item-1", "fp-1", now)
	first.AltFingerprints = []string{"shared"}
	second := testItem("item-2", "fp-2", now)
	second.AltFingerprints = []string{"shared"}

	if err := repo.UpsertItem(ctx, first); err != nil {
		t.Fatalf("Failed to upsert first: %v", err)
	}
	if err := repo.UpsertItem(ctx, second); err != nil {
		t.Fatalf("Failed to upsert second: %v", err)
	}

	got, err := repo.GetItemByFingerprint(ctx, "shared")
	if err != nil || got == nil {
		t.Fatalf("Expected item, got %v, %v", got, err)
	}
	if got.ID != "item-1" {
		t.Errorf("Expected shared fingerprint to stay with item-1, got %s", got.ID)
	}
}

func TestItemRepository_CancelledContext(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.UpsertItem(ctx, testItem("item-1", "fp-1", time.Now())); err == nil {
		t.Error("Expected error for cancelled context")
	}

	got, err := repo.GetItemByFingerprint(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Expected no partial write after cancelled upsert")
	}
}

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(newTestDB(t))

	missing, err := repo.GetSource(ctx, "feed-a")
	if err != nil || missing != nil {
		t.Fatalf("Expected nil, nil for unknown source, got %v, %v", missing, err)
	}

	next := time.Now().UTC().Truncate(time.Millisecond).Add(time.Hour)
	err = repo.SaveSource(ctx, Source{
		Name:               "feed-a",
		Type:               "feed",
		URL:                "https://example.com/rss",
		State:              "backoff",
		NextRunAt:          &next,
		FailureCount:       2,
		StructuralFailures: 1,
		LastError:          "boom",
	})
	if err != nil {
		t.Fatalf("Failed to save source: %v", err)
	}

	err = repo.SaveSource(ctx, Source{Name: "feed-b", Type: "api", State: "disabled"})
	if err != nil {
		t.Fatalf("Failed to save source: %v", err)
	}

	got, err := repo.GetSource(ctx, "feed-a")
	if err != nil || got == nil {
		t.Fatalf("Expected source, got %v, %v", got, err)
	}
	if got.State != "backoff" || got.FailureCount != 2 || got.StructuralFailures != 1 || got.LastError != "boom" {
		t.Errorf("Unexpected source state: %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("Expected next run %v, got %v", next, got.NextRunAt)
	}
	if got.LastRunAt != nil {
		t.Errorf("Expected nil last run, got %v", got.LastRunAt)
	}

	all, err := repo.GetSources(ctx)
	if err != nil {
		t.Fatalf("Failed to get sources: %v", err)
	}
	if len(all) != 2 || all[0].Name != "feed-a" || all[1].Name != "feed-b" {
		t.Errorf("Expected [feed-a feed-b], got %+v", all)
	}
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(newTestDB(t))

	start := time.Now().UTC().Truncate(time.Millisecond)
	runs := []item.IngestReport{
		{RunID: "r1", Source: "feed-a", StartedAt: start, FinishedAt: start.Add(time.Second), Fetched: 3, Created: 2, Merged: 1},
		{RunID: "r2", Source: "feed-b", StartedAt: start.Add(time.Minute), FinishedAt: start.Add(time.Minute), Error: "auth"},
		{RunID: "r3", Source: "feed-a", StartedAt: start.Add(2 * time.Minute), FinishedAt: start.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	all, err := repo.GetRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("Failed to get runs: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "r3" {
		t.Errorf("Expected 3 runs newest first, got %+v", all)
	}

	feedA, err := repo.GetRuns(ctx, "feed-a", 10)
	if err != nil {
		t.Fatalf("Failed to get runs: %v", err)
	}
	if len(feedA) != 2 {
		t.Fatalf("Expected 2 runs for feed-a, got %d", len(feedA))
	}
	if feedA[1].Created != 2 || feedA[1].Merged != 1 || feedA[1].Duration() != time.Second {
		t.Errorf("Unexpected run: %+v", feedA[1])
	}
}
