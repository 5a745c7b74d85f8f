// Package normalize turns raw fetched records into comparison keys and
// fingerprints. Nothing in here performs I/O and nothing returns an error:
// fields that cannot be understood degrade to empty strings.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lysyi3m/news-comb/app/item"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const DefaultExcerptRunes = 280

type Normalizer struct {
	policy       *bluemonday.Policy
	excerptRunes int
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy:       bluemonday.StrictPolicy(),
		excerptRunes: DefaultExcerptRunes,
	}
}

func (n *Normalizer) Run(raw item.RawRecord) item.NormalizedItem {
	title := n.CanonicalTitle(raw.Title)
	host := CanonicalHost(raw.URL)

	key := CanonicalKey(title, host)
	if title == "" {
		key = urlKey(raw.URL)
	}

	return item.NormalizedItem{
		Raw:            raw,
		CanonicalTitle: title,
		CanonicalHost:  host,
		CanonicalBody:  n.CanonicalBody(raw.Body),
		CanonicalKey:   key,
		Fingerprint:    Fingerprint(key),
	}
}

// CanonicalTitle keeps only folded letters and digits separated by single
// spaces, so feeding the result back in returns it unchanged.
func (n *Normalizer) CanonicalTitle(s string) string {
	s = fold(n.stripHTML(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func (n *Normalizer) CanonicalBody(s string) string {
	s = strings.Join(strings.Fields(fold(n.stripHTML(s))), " ")
	if utf8.RuneCountInString(s) <= n.excerptRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n.excerptRunes]))
}

func (n *Normalizer) stripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, " ")
	// Tags are dropped without separators, so give them one.
	s = strings.ReplaceAll(s, "<", " <")
	return html.UnescapeString(n.policy.Sanitize(s))
}

// CanonicalKey joins the canonical title and host. Empty title and host
// produce an empty key.
func CanonicalKey(title, host string) string {
	if title == "" && host == "" {
		return ""
	}
	return title + "|" + host
}

// Fingerprint is the hex SHA-256 of the canonical key, or "" for an empty key.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// CanonicalHost extracts the lower-cased host without port or "www." prefix.
func CanonicalHost(rawURL string) string {
	u := parseURL(rawURL)
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// urlKey identifies untitled items by host and path.
func urlKey(rawURL string) string {
	u := parseURL(rawURL)
	if u == nil {
		return ""
	}
	host := CanonicalHost(rawURL)
	if host == "" {
		return ""
	}
	path := strings.TrimRight(strings.ToLower(u.EscapedPath()), "/")
	return "url:" + host + path
}

func parseURL(rawURL string) *url.URL {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	if u.Host == "" && u.Scheme == "" {
		if withScheme, err := url.Parse("http://" + rawURL); err == nil {
			u = withScheme
		}
	}
	if u.Host == "" {
		return nil
	}
	return u
}

// fold case-folds and strips diacritics. Folding runs twice because
// compatibility decomposition can surface upper-case forms.
func fold(s string) string {
	if s == "" {
		return ""
	}
	s = cases.Fold().String(s)
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		return s
	}
	return cases.Fold().String(stripped)
}
