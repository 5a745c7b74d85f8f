package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/item"
)

// CachedStore puts a Cache in front of a database.ItemStore. Reads go to the
// cache first and fill it on a miss. Writes invalidate the cache, go to the
// store, then refresh the cache, so the store stays the source of truth
// when the process dies halfway. A read-through fill never replaces an
// entry, so a slow reader cannot put back a version a writer superseded.
type CachedStore struct {
	store  database.ItemStore
	cache  Cache
	logger *slog.Logger
}

func NewCachedStore(store database.ItemStore, cache Cache, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (s *CachedStore) GetRecentItems(ctx context.Context, since time.Time, limit int) ([]item.CanonicalItem, error) {
	items, err := s.store.GetRecentItems(ctx, since, limit)
	if err != nil {
		return nil, item.StoreError("get recent items", err)
	}
	return items, nil
}

func (s *CachedStore) GetItemByFingerprint(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	key := FingerprintKey(fingerprint)

	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache read failed, falling back to store", "key", key, "error", err)
	}
	if found {
		var c item.CanonicalItem
		if err := json.Unmarshal(data, &c); err == nil && c.HasFingerprint(fingerprint) {
			return &c, nil
		}
		s.logger.Debug("Dropping invalid cache entry", "key", key)
		_ = s.cache.Delete(ctx, key)
	}

	c, err := s.store.GetItemByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, item.StoreError("get item by fingerprint", err)
	}
	if c == nil {
		return nil, nil
	}

	s.fill(ctx, key, *c)
	return c, nil
}

// GetStoredItem reads the durable store and leaves the cache alone.
func (s *CachedStore) GetStoredItem(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	c, err := s.store.GetItemByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, item.StoreError("get stored item", err)
	}
	return c, nil
}

func (s *CachedStore) UpsertItem(ctx context.Context, c item.CanonicalItem) error {
	fingerprints := c.Fingerprints()

	for _, fp := range fingerprints {
		if err := s.cache.Delete(ctx, FingerprintKey(fp)); err != nil {
			return item.StoreError("invalidate cache", err)
		}
	}

	if err := s.store.UpsertItem(ctx, c); err != nil {
		return item.StoreError("upsert item", err)
	}

	for _, fp := range fingerprints {
		s.set(ctx, FingerprintKey(fp), c)
	}

	return nil
}

// Health reports the cache backend state.
func (s *CachedStore) Health(ctx context.Context) map[string]any {
	return s.cache.Health(ctx)
}

// set is best effort; a failed write leaves the key absent.
func (s *CachedStore) set(ctx context.Context, key string, c item.CanonicalItem) {
	data, ok := s.encode(key, c)
	if !ok {
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		s.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

func (s *CachedStore) fill(ctx context.Context, key string, c item.CanonicalItem) {
	data, ok := s.encode(key, c)
	if !ok {
		return
	}
	stored, err := s.cache.SetIfAbsent(ctx, key, data)
	if err != nil {
		s.logger.Warn("Cache write failed", "key", key, "error", err)
		return
	}
	if !stored {
		s.logger.Debug("Kept newer cache entry", "key", key)
	}
}

func (s *CachedStore) encode(key string, c item.CanonicalItem) ([]byte, bool) {
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.Error("Failed to encode cache entry", "key", key, "error", err)
		return nil, false
	}
	return data, true
}
