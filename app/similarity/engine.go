// Package similarity scores how alike two normalized items are.
//
// Titles syndicated by different outlets tend to differ in word order,
// suffixes like "(updated)" and truncation. The title score is the larger
// of a token-set ratio, which ignores ordering and tolerates one title being
// a subset of the other, and a partial ratio, which compares the shorter
// title with equally sized slices of the longer one.
package similarity

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/lysyi3m/news-comb/app/item"
)

const DefaultThreshold = 0.85

type Config struct {
	// Threshold is the minimum score treated as the same item. Raising it
	// gives fewer false merges and more near-duplicate clutter; lowering it
	// merges more aggressively and risks collapsing distinct stories.
	Threshold float64
	// BodyWeight blends the body excerpt score into the title score.
	// Zero disables body comparison.
	BodyWeight float64
}

func (c *Config) defaults() {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
	if c.BodyWeight < 0 {
		c.BodyWeight = 0
	}
	if c.BodyWeight > 1 {
		c.BodyWeight = 1
	}
}

type Engine struct {
	threshold  float64
	bodyWeight float64
}

func NewEngine(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		threshold:  cfg.Threshold,
		bodyWeight: cfg.BodyWeight,
	}
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Score returns a value in [0,1]. It is symmetric in its arguments, and
// an item always scores 1 against itself, even one with an empty key.
func (e *Engine) Score(a, b item.NormalizedItem) float64 {
	if a.CanonicalKey == b.CanonicalKey {
		return 1
	}
	if a.CanonicalTitle == "" || b.CanonicalTitle == "" {
		return 0
	}

	score := TextScore(a.CanonicalTitle, b.CanonicalTitle)

	if e.bodyWeight > 0 && a.CanonicalBody != "" && b.CanonicalBody != "" {
		score = (1-e.bodyWeight)*score + e.bodyWeight*TextScore(a.CanonicalBody, b.CanonicalBody)
	}

	return clamp(score)
}

// Match reports whether the score reaches the threshold (inclusive).
func (e *Engine) Match(a, b item.NormalizedItem) bool {
	return e.Score(a, b) >= e.threshold
}

// TextScore is max(token-set ratio, partial ratio).
func TextScore(a, b string) float64 {
	return max(TokenSetRatio(a, b), PartialRatio(a, b))
}

// Ratio is 1 - levenshtein(a, b) / max(len(a), len(b)), counted in runes.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return clamp(1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest))
}

func TokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return Ratio(strings.Join(tokensA, " "), strings.Join(tokensB, " "))
	}

	var common, onlyA, onlyB []string
	for _, token := range tokensA {
		if _, found := slices.BinarySearch(tokensB, token); found {
			common = append(common, token)
		} else {
			onlyA = append(onlyA, token)
		}
	}
	for _, token := range tokensB {
		if _, found := slices.BinarySearch(tokensA, token); !found {
			onlyB = append(onlyB, token)
		}
	}

	base := strings.Join(common, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	if base == "" {
		return Ratio(withA, withB)
	}
	return max(Ratio(base, withA), Ratio(base, withB), Ratio(withA, withB))
}

// PartialRatio compares the shorter string with every run of the same
// number of consecutive tokens in the longer one.
func PartialRatio(a, b string) float64 {
	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)
	if lenA == lenB {
		return Ratio(a, b)
	}

	shorter, longer := a, b
	if lenA > lenB {
		shorter, longer = b, a
	}

	shortTokens := strings.Fields(shorter)
	longTokens := strings.Fields(longer)
	if len(shortTokens) == 0 || len(longTokens) == 0 {
		return Ratio(shorter, longer)
	}

	width := min(len(shortTokens), len(longTokens))
	best := 0.0
	for start := 0; start+width <= len(longTokens); start++ {
		score := Ratio(shorter, strings.Join(longTokens[start:start+width], " "))
		if score > best {
			best = score
			if best == 1 {
				break
			}
		}
	}
	return best
}

func tokenSet(s string) []string {
	tokens := strings.Fields(s)
	slices.Sort(tokens)
	return slices.Compact(tokens)
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
