package dedup

import (
	"slices"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/item"
)

const day = 24 * time.Hour

type entry struct {
	item    item.CanonicalItem
	norm    item.NormalizedItem
	seq     uint64
	day     int64
	pending bool
}

// candidate is a possible canonical match for an incoming item.
type candidate struct {
	id          string
	fingerprint string
	firstSeen   time.Time
	score       float64
}

// better orders candidates by score, then earliest first-seen, then ID.
func (c candidate) better(other *candidate) bool {
	if other == nil {
		return true
	}
	if c.score != other.score {
		return c.score > other.score
	}
	if !c.firstSeen.Equal(other.firstSeen) {
		return c.firstSeen.Before(other.firstSeen)
	}
	return c.id < other.id
}

// view is a copy of an entry that can be scored without holding the lock.
type view struct {
	id          string
	fingerprint string
	firstSeen   time.Time
	norm        item.NormalizedItem
}

// window holds recently seen canonical items in memory. Each entry gets a
// sequence number when it is inserted, so a writer can re-check only the
// entries that appeared after its scan started. Pending entries are
// creations whose durable write is still in flight.
type window struct {
	mu      sync.RWMutex
	maxAge  time.Duration
	maxSize int

	seq           uint64
	byID          map[string]*entry
	byFingerprint map[string]string
	buckets       map[int64]map[string]struct{} // by day of last-seen
}

func newWindow(maxAge time.Duration, maxSize int) *window {
	return &window{
		maxAge:        maxAge,
		maxSize:       maxSize,
		byID:          make(map[string]*entry),
		byFingerprint: make(map[string]string),
		buckets:       make(map[int64]map[string]struct{}),
	}
}

func (w *window) len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.byID)
}

// snapshot returns every entry together with the current sequence number.
func (w *window) snapshot() ([]view, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	views := make([]view, 0, len(w.byID))
	for _, e := range w.byID {
		views = append(views, viewOf(e))
	}
	return views, w.seq
}

func (w *window) lookupFingerprint(fp string) (candidate, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	id, ok := w.byFingerprint[fp]
	if !ok {
		return candidate{}, false
	}
	e := w.byID[id]
	return candidate{id: id, fingerprint: e.item.Fingerprint, firstSeen: e.item.FirstSeenAt, score: 1}, true
}

// get returns a committed entry. Pending entries are reported as missing.
func (w *window) get(id string) (item.CanonicalItem, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.byID[id]
	if !ok || e.pending {
		return item.CanonicalItem{}, false
	}
	return e.item.Clone(), true
}

// reserve re-checks entries inserted after seq and returns the best match
// among them. Without a match c is inserted as pending and nil is returned.
func (w *window) reserve(c item.CanonicalItem, n item.NormalizedItem, seq uint64, score func(item.NormalizedItem) float64, threshold float64) *candidate {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.byFingerprint[n.Fingerprint]; ok {
		e := w.byID[id]
		return &candidate{id: id, fingerprint: e.item.Fingerprint, firstSeen: e.item.FirstSeenAt, score: 1}
	}

	var best *candidate
	for _, e := range w.byID {
		if e.seq <= seq {
			continue
		}
		s := score(e.norm)
		if s < threshold {
			continue
		}
		cand := candidate{id: e.item.ID, fingerprint: e.item.Fingerprint, firstSeen: e.item.FirstSeenAt, score: s}
		if cand.better(best) {
			best = &cand
		}
	}
	if best != nil {
		return best
	}

	w.insertLocked(c, true)
	return nil
}

// commit marks a reserved entry as durable.
func (w *window) commit(c item.CanonicalItem, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.byID[c.ID]; ok {
		w.updateLocked(e, c)
		e.pending = false
	} else {
		w.insertLocked(c, false)
	}
	w.evictLocked(now)
}

// put stores a durable item. An existing entry is only replaced by a
// version with a higher merge count, so a slow warm-up cannot roll back
// a merge that finished in the meantime.
func (w *window) put(c item.CanonicalItem, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.putLocked(c)
	w.evictLocked(now)
}

func (w *window) load(items []item.CanonicalItem, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range items {
		w.putLocked(c)
	}
	w.evictLocked(now)
}

func (w *window) remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.byID[id]; ok {
		w.removeLocked(e)
	}
}

func (w *window) putLocked(c item.CanonicalItem) {
	e, ok := w.byID[c.ID]
	if !ok {
		w.insertLocked(c, false)
		return
	}
	if e.pending || c.MergeCount < e.item.MergeCount {
		return
	}
	w.updateLocked(e, c)
}

func (w *window) insertLocked(c item.CanonicalItem, pending bool) {
	w.seq++
	e := &entry{
		item:    c.Clone(),
		norm:    c.Normalized(),
		seq:     w.seq,
		day:     dayOf(c.LastSeenAt),
		pending: pending,
	}
	w.byID[c.ID] = e
	w.addBucketLocked(e)
	for _, fp := range c.Fingerprints() {
		if _, taken := w.byFingerprint[fp]; !taken {
			w.byFingerprint[fp] = c.ID
		}
	}
}

func (w *window) updateLocked(e *entry, c item.CanonicalItem) {
	w.removeBucketLocked(e)
	e.item = c.Clone()
	e.norm = c.Normalized()
	e.day = dayOf(c.LastSeenAt)
	w.addBucketLocked(e)
	for _, fp := range c.Fingerprints() {
		if _, taken := w.byFingerprint[fp]; !taken {
			w.byFingerprint[fp] = c.ID
		}
	}
}

func (w *window) removeLocked(e *entry) {
	w.removeBucketLocked(e)
	delete(w.byID, e.item.ID)
	for _, fp := range e.item.Fingerprints() {
		if w.byFingerprint[fp] == e.item.ID {
			delete(w.byFingerprint, fp)
		}
	}
}

func (w *window) addBucketLocked(e *entry) {
	bucket, ok := w.buckets[e.day]
	if !ok {
		bucket = make(map[string]struct{})
		w.buckets[e.day] = bucket
	}
	bucket[e.item.ID] = struct{}{}
}

func (w *window) removeBucketLocked(e *entry) {
	bucket := w.buckets[e.day]
	delete(bucket, e.item.ID)
	if len(bucket) == 0 {
		delete(w.buckets, e.day)
	}
}

// evictLocked drops committed entries last seen before the age limit, then
// the oldest ones until the window fits its size limit.
func (w *window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	cutoffDay := dayOf(cutoff)

	for _, d := range w.sortedDays() {
		if d > cutoffDay {
			break
		}
		for id := range w.buckets[d] {
			e := w.byID[id]
			if !e.pending && e.item.LastSeenAt.Before(cutoff) {
				w.removeLocked(e)
			}
		}
	}

	for len(w.byID) > w.maxSize {
		oldest := w.oldestLocked()
		if oldest == nil {
			return
		}
		w.removeLocked(oldest)
	}
}

func (w *window) oldestLocked() *entry {
	for _, d := range w.sortedDays() {
		var oldest *entry
		for id := range w.buckets[d] {
			e := w.byID[id]
			if e.pending {
				continue
			}
			if oldest == nil || e.item.LastSeenAt.Before(oldest.item.LastSeenAt) ||
				(e.item.LastSeenAt.Equal(oldest.item.LastSeenAt) && e.item.ID > oldest.item.ID) {
				oldest = e
			}
		}
		if oldest != nil {
			return oldest
		}
	}
	return nil
}

func (w *window) sortedDays() []int64 {
	days := make([]int64, 0, len(w.buckets))
	for d := range w.buckets {
		days = append(days, d)
	}
	slices.Sort(days)
	return days
}

func viewOf(e *entry) view {
	return view{
		id:          e.item.ID,
		fingerprint: e.item.Fingerprint,
		firstSeen:   e.item.FirstSeenAt,
		norm:        e.norm,
	}
}

func dayOf(t time.Time) int64 {
	return t.Unix() / int64(day/time.Second)
}
