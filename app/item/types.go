package item

import (
	"slices"
	"time"
)

// MaxAltFingerprints bounds the alternate fingerprints kept per canonical item.
const MaxAltFingerprints = 32

// RawRecord is one entry as delivered by a source fetcher.
type RawRecord struct {
	SourceID    string
	RetrievedAt time.Time

	GUID        string
	Title       string
	Body        string
	URL         string
	Authors     []string
	Categories  []string
	PublishedAt *time.Time
}

// NormalizedItem is a RawRecord with its comparison key and fingerprint.
type NormalizedItem struct {
	Raw RawRecord

	CanonicalTitle string
	CanonicalHost  string
	CanonicalBody  string // excerpt, already folded
	CanonicalKey   string
	Fingerprint    string
}

// CanonicalItem is the durable representation of a deduplicated item.
type CanonicalItem struct {
	ID              string     `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	CanonicalKey    string     `json:"canonical_key"`
	CanonicalTitle  string     `json:"canonical_title"`
	Title           string     `json:"title"`
	Link            string     `json:"link"`
	Host            string     `json:"host"`
	BodyExcerpt     string     `json:"body_excerpt"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	Sources         []string   `json:"sources"`
	MergeCount      int        `json:"merge_count"`
	AltFingerprints []string   `json:"alt_fingerprints,omitempty"`
}

// Normalized returns the comparison view of a canonical item.
func (c CanonicalItem) Normalized() NormalizedItem {
	return NormalizedItem{
		Raw: RawRecord{
			Title:       c.Title,
			URL:         c.Link,
			PublishedAt: c.PublishedAt,
		},
		CanonicalTitle: c.CanonicalTitle,
		CanonicalHost:  c.Host,
		CanonicalBody:  c.BodyExcerpt,
		CanonicalKey:   c.CanonicalKey,
		Fingerprint:    c.Fingerprint,
	}
}

// Fingerprints returns the primary fingerprint followed by the alternates.
func (c CanonicalItem) Fingerprints() []string {
	fps := make([]string, 0, 1+len(c.AltFingerprints))
	fps = append(fps, c.Fingerprint)
	return append(fps, c.AltFingerprints...)
}

// HasFingerprint reports whether fp is the primary or an alternate fingerprint.
func (c CanonicalItem) HasFingerprint(fp string) bool {
	return c.Fingerprint == fp || slices.Contains(c.AltFingerprints, fp)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (c CanonicalItem) Clone() CanonicalItem {
	out := c
	out.Sources = slices.Clone(c.Sources)
	out.AltFingerprints = slices.Clone(c.AltFingerprints)
	if c.PublishedAt != nil {
		published := *c.PublishedAt
		out.PublishedAt = &published
	}
	return out
}

// MergeFrom records another sighting of the item. It returns a new value.
func (c CanonicalItem) MergeFrom(n NormalizedItem, seenAt time.Time) CanonicalItem {
	out := c.Clone()

	if seenAt.After(out.LastSeenAt) {
		out.LastSeenAt = seenAt
	}
	if n.Raw.SourceID != "" && !slices.Contains(out.Sources, n.Raw.SourceID) {
		out.Sources = append(out.Sources, n.Raw.SourceID)
	}
	out.MergeCount++

	if n.Fingerprint != "" && !out.HasFingerprint(n.Fingerprint) && len(out.AltFingerprints) < MaxAltFingerprints {
		out.AltFingerprints = append(out.AltFingerprints, n.Fingerprint)
	}

	if out.PublishedAt == nil && n.Raw.PublishedAt != nil {
		published := *n.Raw.PublishedAt
		out.PublishedAt = &published
	}

	return out
}

// Outcome is the admission decision for one normalized item.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeMerged   Outcome = "merged"
	OutcomeRejected Outcome = "rejected"
)
