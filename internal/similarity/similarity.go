// File: internal/similarity/similarity.go
package similarity

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/xkilldash9x/arborist/internal/textnorm"
)

// Default thresholds used system-wide.
const (
	// DefaultHigh marks two labels as the same concept (dedup, exact-equivalent resolution).
	DefaultHigh = 0.86
	// DefaultMed marks a label as close enough to be offered as a candidate match.
	DefaultMed = 0.72
)

// Thresholds carries the two similarity cut-offs explicitly so callers never
// depend on hidden module constants.
type Thresholds struct {
	High float64 `json:"high"`
	Med  float64 `json:"med"`
}

// DefaultThresholds returns the stock High/Med pair.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHigh, Med: DefaultMed}
}

// Weights blends the three similarity components. They should sum to 1.
type Weights struct {
	Token   float64 `json:"token"`
	Trigram float64 `json:"trigram"`
	Edit    float64 `json:"edit"`
}

// DefaultWeights favours meaning (token overlap) over surface form.
func DefaultWeights() Weights {
	return Weights{Token: 0.6, Trigram: 0.3, Edit: 0.1}
}

// Validate checks that every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	if w.Token < 0 || w.Trigram < 0 || w.Edit < 0 {
		return fmt.Errorf("similarity weights must be non-negative")
	}
	if sum := w.Token + w.Trigram + w.Edit; math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("similarity weights must sum to 1, got %.3f", sum)
	}
	return nil
}

// Scorer is the single similarity function used by the resolver, suggestion
// dedup, prune duplicate detection and evaluation clustering.
type Scorer struct {
	Weights Weights
}

// NewScorer returns a Scorer; a zero Weights value falls back to DefaultWeights.
func NewScorer(w Weights) Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return Scorer{Weights: w}
}

var defaultScorer = NewScorer(DefaultWeights())

// Similarity scores a and b with the default weights.
func Similarity(a, b string) float64 {
	return defaultScorer.Similarity(a, b)
}

// Similarity returns a score in [0,1]. Two empty labels are identical (1), one
// empty label against a non-empty one scores 0. The result is symmetric and
// Similarity(a, a) == 1 for any non-empty a.
func (s Scorer) Similarity(a, b string) float64 {
	normA, normB := textnorm.Normalize(a), textnorm.Normalize(b)
	switch {
	case normA == "" && normB == "":
		return 1
	case normA == "" || normB == "":
		return 0
	}

	tok := jaccard(textnorm.Tokenize(a), textnorm.Tokenize(b))
	tri := jaccard(trigrams(normA), trigrams(normB))
	edit := editSimilarity(normA, normB)

	score := s.Weights.Token*tok + s.Weights.Trigram*tri + s.Weights.Edit*edit
	// Round away float noise so identical inputs land on exactly 1.
	score = math.Round(score*1e9) / 1e9
	return clamp01(score)
}

// TokenJaccard is the Jaccard overlap of the token sets of a and b.
func TokenJaccard(a, b string) float64 {
	return jaccard(textnorm.Tokenize(a), textnorm.Tokenize(b))
}

// TrigramJaccard is the Jaccard overlap of the character trigrams of the
// normalized forms of a and b.
func TrigramJaccard(a, b string) float64 {
	return jaccard(trigrams(textnorm.Normalize(a)), trigrams(textnorm.Normalize(b)))
}

// EditSimilarity is 1 - levenshtein(normA, normB) / max(len(normA), len(normB), 1).
func EditSimilarity(a, b string) float64 {
	return editSimilarity(textnorm.Normalize(a), textnorm.Normalize(b))
}

// EditDistance is the classic Levenshtein distance between the normalized forms.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(textnorm.Normalize(a), textnorm.Normalize(b))
}

func editSimilarity(normA, normB string) float64 {
	longest := max(utf8.RuneCountInString(normA), utf8.RuneCountInString(normB), 1)
	d := levenshtein.ComputeDistance(normA, normB)
	return clamp01(1 - float64(d)/float64(longest))
}

// trigrams returns the 3-rune substrings of an already normalized string.
// Strings shorter than three characters contribute themselves as one gram.
func trigrams(norm string) []string {
	if norm == "" {
		return nil
	}
	runes := []rune(norm)
	if len(runes) < 3 {
		return []string{norm}
	}
	grams := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+3]))
	}
	return grams
}

// jaccard treats both slices as sets. Two empty sets are identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, x := range a {
		setA[x] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, x := range b {
		setB[x] = struct{}{}
	}
	inter := 0
	for x := range setA {
		if _, ok := setB[x]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
