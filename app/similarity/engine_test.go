package similarity

import (
	"math"
	"testing"

	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/normalize"
)

func normalized(title, url string) item.NormalizedItem {
	return normalize.NewNormalizer().Run(item.RawRecord{Title: title, URL: url})
}

func TestEngine_Defaults(t *testing.T) {
	engine := NewEngine(Config{})
	if engine.Threshold() != DefaultThreshold {
		t.Errorf("Expected default threshold %v, got %v", DefaultThreshold, engine.Threshold())
	}

	engine = NewEngine(Config{Threshold: 1.5, BodyWeight: -1})
	if engine.Threshold() != DefaultThreshold {
		t.Errorf("Expected out of range threshold to fall back to default, got %v", engine.Threshold())
	}
	if engine.bodyWeight != 0 {
		t.Errorf("Expected negative body weight to clamp to 0, got %v", engine.bodyWeight)
	}
}

func TestEngine_SelfScore(t *testing.T) {
	engine := NewEngine(Config{})

	titles := []string{
		"NASA Launches New Rover",
		"a",
		"Markets rally as inflation cools",
	}

	for _, title := range titles {
		x := normalized(title, "https://example.com/x")
		if score := engine.Score(x, x); score != 1 {
			t.Errorf("Expected score(x,x) = 1 for %q, got %v", title, score)
		}
	}
}

func TestEngine_Symmetry(t *testing.T) {
	engine := NewEngine(Config{BodyWeight: 0.3})

	pairs := [][2]string{
		{"NASA Launches New Rover", "NASA launches new rover  (updated)"},
		{"Apple releases new iPhone", "Stock market falls sharply"},
		{"Breaking: Earthquake hits Tokyo", "Earthquake hits Tokyo, officials say"},
		{"short", "a considerably longer title with short in it"},
		{"Rover", "NASA launches new rover"},
		{"abc def", "def abc"},
	}

	for _, pair := range pairs {
		a := normalized(pair[0], "https://a.example.com/1")
		b := normalized(pair[1], "https://b.example.com/2")
		a.CanonicalBody = "the rover touched down safely"
		b.CanonicalBody = "officials said the rover touched down"

		ab := engine.Score(a, b)
		ba := engine.Score(b, a)
		if ab != ba {
			t.Errorf("Score not symmetric for %q / %q: %v vs %v", pair[0], pair[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Score out of range for %q / %q: %v", pair[0], pair[1], ab)
		}
	}
}

func TestEngine_NearDuplicates(t *testing.T) {
	engine := NewEngine(Config{})

	a := normalized("NASA Launches New Rover", "https://www.nasa.gov/news/rover")
	b := normalized("NASA launches new rover  (updated)", "https://space.example.com/rover")

	if !engine.Match(a, b) {
		t.Errorf("Expected match, score %v", engine.Score(a, b))
	}

	reordered := normalized("New rover launches, NASA", "https://other.example.com")
	if !engine.Match(a, reordered) {
		t.Errorf("Expected reordered title to match, score %v", engine.Score(a, reordered))
	}

	truncated := normalized("NASA Launches New Rov", "https://other.example.com")
	if !engine.Match(a, truncated) {
		t.Errorf("Expected truncated title to match, score %v", engine.Score(a, truncated))
	}
}

func TestEngine_DistinctItems(t *testing.T) {
	engine := NewEngine(Config{})

	a := normalized("Apple releases new iPhone", "https://example.com/a")
	b := normalized("Stock market falls sharply", "https://example.com/b")

	if engine.Match(a, b) {
		t.Errorf("Expected no match, score %v", engine.Score(a, b))
	}
}

func TestEngine_EmptyTitles(t *testing.T) {
	engine := NewEngine(Config{})

	a := normalized("", "https://example.com/a")
	b := normalized("Something", "https://example.com/a")

	if score := engine.Score(a, b); score != 0 {
		t.Errorf("Expected 0 when one title is empty, got %v", score)
	}

	same := normalized("", "https://example.com/a")
	if score := engine.Score(a, same); score != 1 {
		t.Errorf("Expected identical URL keys to score 1, got %v", score)
	}

	blank := normalized("", "")
	if blank.CanonicalKey != "" {
		t.Fatalf("Expected empty key, got %q", blank.CanonicalKey)
	}
	if score := engine.Score(blank, blank); score != 1 {
		t.Errorf("Expected an empty item to score 1 against itself, got %v", score)
	}
	if score := engine.Score(blank, b); score != 0 {
		t.Errorf("Expected empty item against a titled one to score 0, got %v", score)
	}
}

func TestEngine_ThresholdBoundary(t *testing.T) {
	// "abcdefghij" vs "abcdefghix": one substitution over ten runes.
	a := item.NormalizedItem{CanonicalTitle: "abcdefghij", CanonicalKey: "abcdefghij|"}
	b := item.NormalizedItem{CanonicalTitle: "abcdefghix", CanonicalKey: "abcdefghix|"}

	score := NewEngine(Config{}).Score(a, b)
	if math.Abs(score-0.9) > 1e-9 {
		t.Fatalf("Expected score 0.9, got %v", score)
	}

	atThreshold := NewEngine(Config{Threshold: score})
	if !atThreshold.Match(a, b) {
		t.Error("Score exactly at threshold should match")
	}

	aboveThreshold := NewEngine(Config{Threshold: math.Nextafter(score, 1)})
	if aboveThreshold.Match(a, b) {
		t.Error("Score just below threshold should not match")
	}
}

func TestEngine_BodyWeight(t *testing.T) {
	engine := NewEngine(Config{BodyWeight: 0.5})

	a := item.NormalizedItem{CanonicalTitle: "abcdefghij", CanonicalKey: "a", CanonicalBody: "same body"}
	b := item.NormalizedItem{CanonicalTitle: "abcdefghix", CanonicalKey: "b", CanonicalBody: "same body"}

	expected := 0.5*0.9 + 0.5*1
	if score := engine.Score(a, b); math.Abs(score-expected) > 1e-9 {
		t.Errorf("Expected blended score %v, got %v", expected, score)
	}

	b.CanonicalBody = ""
	if score := engine.Score(a, b); math.Abs(score-0.9) > 1e-9 {
		t.Errorf("Expected title only score when a body is missing, got %v", score)
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"kitten", "sitting", 1 - 3.0/7.0},
		{"été", "ete", 1 - 2.0/3.0},
	}

	for _, tt := range tests {
		if result := Ratio(tt.a, tt.b); math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("Ratio(%q, %q): expected %v, got %v", tt.a, tt.b, tt.expected, result)
		}
	}
}

func TestTokenSetRatio_Subset(t *testing.T) {
	if score := TokenSetRatio("nasa rover", "rover nasa launches"); score != 1 {
		t.Errorf("Expected subset titles to score 1, got %v", score)
	}
}

func TestPartialRatio_Window(t *testing.T) {
	score := PartialRatio("new rover", "nasa launches new rover today")
	if score != 1 {
		t.Errorf("Expected exact window match to score 1, got %v", score)
	}
}
