package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
)

const itemColumns = `c.id, c.fingerprint, c.canonical_key, c.canonical_title, c.title, c.link, c.host,
	c.body_excerpt, c.published_at, c.first_seen_at, c.last_seen_at, c.sources, c.merge_count,
	COALESCE((SELECT group_concat(f.fingerprint, ',') FROM item_fingerprints f
		WHERE f.item_id = c.id AND f.fingerprint <> c.fingerprint), '')`

// ItemRepository handles database operations for canonical items
type ItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetRecentItems returns items last seen at or after since, most recent first.
func (r *ItemRepository) GetRecentItems(ctx context.Context, since time.Time, limit int) ([]item.CanonicalItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM canonical_items c
		WHERE c.last_seen_at >= ?
		ORDER BY c.last_seen_at DESC, c.id
		LIMIT ?
	`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items: %w", err)
	}
	defer rows.Close()

	var items []item.CanonicalItem
	for rows.Next() {
		c, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

// GetItemByFingerprint looks up an item by primary or alternate fingerprint.
func (r *ItemRepository) GetItemByFingerprint(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM item_fingerprints m
		JOIN canonical_items c ON c.id = m.item_id
		WHERE m.fingerprint = ?
	`, fingerprint)

	c, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by fingerprint: %w", err)
	}

	return &c, nil
}

// UpsertItem writes the item and registers all of its fingerprints in one
// transaction. A fingerprint already owned by another item stays with it.
func (r *ItemRepository) UpsertItem(ctx context.Context, c item.CanonicalItem) error {
	sources, err := json.Marshal(c.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO canonical_items (
			id, fingerprint, canonical_key, canonical_title, title, link, host,
			body_excerpt, published_at, first_seen_at, last_seen_at, sources, merge_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			body_excerpt = excluded.body_excerpt,
			published_at = excluded.published_at,
			last_seen_at = excluded.last_seen_at,
			sources = excluded.sources,
			merge_count = excluded.merge_count
	`, c.ID, c.Fingerprint, c.CanonicalKey, c.CanonicalTitle, c.Title, c.Link, c.Host,
		c.BodyExcerpt, nullMillis(c.PublishedAt), toMillis(c.FirstSeenAt), toMillis(c.LastSeenAt),
		string(sources), c.MergeCount)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	for _, fp := range c.Fingerprints() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO item_fingerprints (fingerprint, item_id) VALUES (?, ?)
			ON CONFLICT (fingerprint) DO NOTHING
		`, fp, c.ID)
		if err != nil {
			return fmt.Errorf("failed to register fingerprint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item: %w", err)
	}

	return nil
}

func (r *ItemRepository) GetItemStats(ctx context.Context) (ItemStats, error) {
	var stats ItemStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN merge_count > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(merge_count), 0)
		FROM canonical_items
	`).Scan(&stats.Total, &stats.Merged, &stats.MergeTotal)
	if err != nil {
		return ItemStats{}, fmt.Errorf("failed to get item stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (item.CanonicalItem, error) {
	var (
		c                     item.CanonicalItem
		publishedAt           sql.NullInt64
		firstSeen, lastSeen   int64
		sources, alternatives string
	)

	err := row.Scan(
		&c.ID, &c.Fingerprint, &c.CanonicalKey, &c.CanonicalTitle, &c.Title, &c.Link, &c.Host,
		&c.BodyExcerpt, &publishedAt, &firstSeen, &lastSeen, &sources, &c.MergeCount,
		&alternatives,
	)
	if err != nil {
		return item.CanonicalItem{}, err
	}

	c.PublishedAt = timePtr(publishedAt)
	c.FirstSeenAt = fromMillis(firstSeen)
	c.LastSeenAt = fromMillis(lastSeen)

	if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
		return item.CanonicalItem{}, fmt.Errorf("failed to decode sources: %w", err)
	}
	if alternatives != "" {
		c.AltFingerprints = strings.Split(alternatives, ",")
	}

	return c, nil
}
