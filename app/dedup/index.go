// Package dedup decides whether a normalized item is new or a near-duplicate
// of a known canonical item, and records the decision durably.
//
// Lock order is fingerprint stripe, then item stripe, then the window's
// own mutex. The window mutex is never held across I/O.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/item"
)

var errCandidateVanished = errors.New("matched item disappeared during admission")

const maxAdmitAttempts = 3

// Scorer compares two normalized items. *similarity.Engine implements it.
type Scorer interface {
	Score(a, b item.NormalizedItem) float64
	Threshold() float64
}

// storedReader is implemented by stores that cache reads, such as
// *cache.CachedStore.
type storedReader interface {
	GetStoredItem(ctx context.Context, fingerprint string) (*item.CanonicalItem, error)
}

type Config struct {
	WindowAge       time.Duration
	WindowSize      int
	RefreshInterval time.Duration
	StoreTimeout    time.Duration
	LockStripes     int
}

func (c *Config) defaults() {
	if c.WindowAge <= 0 {
		c.WindowAge = 7 * 24 * time.Hour
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 5000
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.LockStripes <= 0 {
		c.LockStripes = 256
	}
}

type AdmitResult struct {
	Outcome item.Outcome
	Item    item.CanonicalItem
	Score   float64
}

type Stats struct {
	WindowItems int       `json:"window_items"`
	WarmedAt    time.Time `json:"warmed_at"`
}

type Index struct {
	store  database.ItemStore
	scorer Scorer
	cfg    Config
	logger *slog.Logger

	now   func() time.Time
	newID func() string

	fingerprintLocks *stripedLocks
	itemLocks        *stripedLocks
	window           *window

	warmMu   sync.Mutex
	warmedAt time.Time
}

func NewIndex(store database.ItemStore, scorer Scorer, cfg Config, logger *slog.Logger) *Index {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Index{
		store:            store,
		scorer:           scorer,
		cfg:              cfg,
		logger:           logger,
		now:              time.Now,
		newID:            uuid.NewString,
		fingerprintLocks: newStripedLocks(cfg.LockStripes),
		itemLocks:        newStripedLocks(cfg.LockStripes),
		window:           newWindow(cfg.WindowAge, cfg.WindowSize),
	}
}

// Warm loads the recent window from the durable store.
func (x *Index) Warm(ctx context.Context) error {
	x.warmMu.Lock()
	defer x.warmMu.Unlock()
	return x.warmLocked(ctx)
}

func (x *Index) warmLocked(ctx context.Context) error {
	now := x.now()

	ctx, cancel := context.WithTimeout(ctx, x.cfg.StoreTimeout)
	defer cancel()

	items, err := x.store.GetRecentItems(ctx, now.Add(-x.cfg.WindowAge), x.cfg.WindowSize)
	if err != nil {
		return item.StoreError("warm dedup window", err)
	}

	x.window.load(items, now)
	x.warmedAt = now

	x.logger.Debug("Dedup window warmed", "loaded", len(items), "window_items", x.window.len())
	return nil
}

// ensureWarm warms on first use and refreshes once the interval passed.
// A failed refresh keeps the current window.
func (x *Index) ensureWarm(ctx context.Context) error {
	x.warmMu.Lock()
	defer x.warmMu.Unlock()

	if !x.warmedAt.IsZero() && x.now().Sub(x.warmedAt) < x.cfg.RefreshInterval {
		return nil
	}

	err := x.warmLocked(ctx)
	if err != nil && !x.warmedAt.IsZero() {
		x.logger.Warn("Failed to refresh dedup window", "error", err)
		x.warmedAt = x.now()
		return nil
	}
	return err
}

func (x *Index) Stats() Stats {
	x.warmMu.Lock()
	warmedAt := x.warmedAt
	x.warmMu.Unlock()

	return Stats{
		WindowItems: x.window.len(),
		WarmedAt:    warmedAt,
	}
}

// Probe returns the canonical item n would be merged into, or nil.
func (x *Index) Probe(ctx context.Context, n item.NormalizedItem) (*item.CanonicalItem, error) {
	if n.CanonicalKey == "" {
		return nil, nil
	}
	if err := x.ensureWarm(ctx); err != nil {
		return nil, err
	}

	cand, _, err := x.probe(ctx, n)
	if err != nil || cand == nil {
		return nil, err
	}

	if c, ok := x.window.get(cand.id); ok {
		return &c, nil
	}
	return x.lookup(ctx, cand.fingerprint)
}

// Admit creates a canonical item for n or merges n into its best match.
// Nothing is published to the window or cache before the durable write
// succeeded, so a failed Admit can be retried as a whole.
func (x *Index) Admit(ctx context.Context, n item.NormalizedItem) (AdmitResult, error) {
	if n.CanonicalKey == "" || n.Fingerprint == "" {
		return AdmitResult{Outcome: item.OutcomeRejected}, nil
	}
	if err := x.ensureWarm(ctx); err != nil {
		return AdmitResult{}, err
	}

	unlock := x.fingerprintLocks.lock(n.Fingerprint)
	defer unlock()

	for range maxAdmitAttempts {
		cand, seq, err := x.probe(ctx, n)
		if err != nil {
			return AdmitResult{}, err
		}

		if cand == nil {
			result, match, err := x.create(ctx, n, seq)
			if err != nil {
				return AdmitResult{}, err
			}
			if match == nil {
				return result, nil
			}
			cand = match
		}

		result, ok, err := x.merge(ctx, n, *cand)
		if err != nil {
			return AdmitResult{}, err
		}
		if ok {
			return result, nil
		}
	}

	return AdmitResult{}, item.StoreError("admit", errCandidateVanished)
}

// probe looks for the best match: exact fingerprint in the window, exact
// fingerprint in the store, then a similarity scan over the window. The
// returned sequence number marks the window state the scan saw.
func (x *Index) probe(ctx context.Context, n item.NormalizedItem) (*candidate, uint64, error) {
	views, seq := x.window.snapshot()

	if cand, ok := x.window.lookupFingerprint(n.Fingerprint); ok {
		return &cand, seq, nil
	}

	known, err := x.lookup(ctx, n.Fingerprint)
	if err != nil {
		return nil, 0, err
	}
	if known != nil {
		return &candidate{id: known.ID, fingerprint: known.Fingerprint, firstSeen: known.FirstSeenAt, score: 1}, seq, nil
	}

	threshold := x.scorer.Threshold()
	var best *candidate
	for _, v := range views {
		score := x.scorer.Score(n, v.norm)
		if score < threshold {
			continue
		}
		cand := candidate{id: v.id, fingerprint: v.fingerprint, firstSeen: v.firstSeen, score: score}
		if cand.better(best) {
			best = &cand
		}
	}

	return best, seq, nil
}

// create reserves a pending window entry and writes the new item. If an
// item that appeared after the probe snapshot matches, that match is
// returned instead and nothing is written.
func (x *Index) create(ctx context.Context, n item.NormalizedItem, seq uint64) (AdmitResult, *candidate, error) {
	c := newCanonical(x.newID(), n, x.seenAt(n))

	unlock := x.itemLocks.lock(c.ID)

	score := func(other item.NormalizedItem) float64 { return x.scorer.Score(n, other) }
	if match := x.window.reserve(c, n, seq, score, x.scorer.Threshold()); match != nil {
		unlock()
		return AdmitResult{}, match, nil
	}
	defer unlock()

	if err := x.upsert(ctx, c); err != nil {
		x.window.remove(c.ID)
		return AdmitResult{}, nil, err
	}

	x.window.commit(c, x.now())
	return AdmitResult{Outcome: item.OutcomeCreated, Item: c.Clone()}, nil, nil
}

// merge applies n to the matched item under its item lock. It reports
// false when the item no longer exists, which happens when a concurrent
// creation it matched failed.
func (x *Index) merge(ctx context.Context, n item.NormalizedItem, cand candidate) (AdmitResult, bool, error) {
	unlock := x.itemLocks.lock(cand.id)
	defer unlock()

	current, ok := x.window.get(cand.id)
	if !ok {
		known, err := x.lookupStored(ctx, cand.fingerprint)
		if err != nil {
			return AdmitResult{}, false, err
		}
		if known == nil || known.ID != cand.id {
			return AdmitResult{}, false, nil
		}
		current = *known
	}

	merged := current.MergeFrom(n, x.seenAt(n))
	if err := x.upsert(ctx, merged); err != nil {
		return AdmitResult{}, false, err
	}

	x.window.put(merged, x.now())
	return AdmitResult{Outcome: item.OutcomeMerged, Item: merged.Clone(), Score: cand.score}, true, nil
}

func (x *Index) lookup(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.StoreTimeout)
	defer cancel()

	c, err := x.store.GetItemByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, item.StoreError("lookup fingerprint", err)
	}
	return c, nil
}

// lookupStored reads past a cache in front of the store. A merge builds the
// next durable version, so it must start from the durable one.
func (x *Index) lookupStored(ctx context.Context, fingerprint string) (*item.CanonicalItem, error) {
	sr, ok := x.store.(storedReader)
	if !ok {
		return x.lookup(ctx, fingerprint)
	}

	ctx, cancel := context.WithTimeout(ctx, x.cfg.StoreTimeout)
	defer cancel()

	c, err := sr.GetStoredItem(ctx, fingerprint)
	if err != nil {
		return nil, item.StoreError("lookup stored fingerprint", err)
	}
	return c, nil
}

func (x *Index) upsert(ctx context.Context, c item.CanonicalItem) error {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.StoreTimeout)
	defer cancel()

	if err := x.store.UpsertItem(ctx, c); err != nil {
		return item.StoreError("upsert item", err)
	}
	return nil
}

func (x *Index) seenAt(n item.NormalizedItem) time.Time {
	if !n.Raw.RetrievedAt.IsZero() {
		return n.Raw.RetrievedAt
	}
	return x.now()
}

func newCanonical(id string, n item.NormalizedItem, seenAt time.Time) item.CanonicalItem {
	c := item.CanonicalItem{
		ID:             id,
		Fingerprint:    n.Fingerprint,
		CanonicalKey:   n.CanonicalKey,
		CanonicalTitle: n.CanonicalTitle,
		Title:          strings.TrimSpace(n.Raw.Title),
		Link:           strings.TrimSpace(n.Raw.URL),
		Host:           n.CanonicalHost,
		BodyExcerpt:    n.CanonicalBody,
		FirstSeenAt:    seenAt,
		LastSeenAt:     seenAt,
		Sources:        []string{},
	}
	if n.Raw.SourceID != "" {
		c.Sources = append(c.Sources, n.Raw.SourceID)
	}
	if n.Raw.PublishedAt != nil {
		published := *n.Raw.PublishedAt
		c.PublishedAt = &published
	}
	return c
}
