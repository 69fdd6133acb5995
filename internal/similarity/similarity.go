// Package similarity ranks voiceprint vectors by cosine similarity. Inputs
// are never assumed pre-normalized; both sides are renormalized before the
// dot product and the result is clamped into [0, 1].
package similarity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors disagree on length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Similarity computes the cosine similarity of a and b in [0, 1].
// A zero vector on either side yields 0.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vectors", ErrDimensionMismatch)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating-point overshoot past unit bounds.
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

// Match is one ranked search hit; Index refers back into the corpus slice.
type Match struct {
	Index int
	Score float64
}

// Search scores query against every corpus candidate, keeps those at or
// above threshold, and returns at most limit results sorted descending by
// score. Ties keep corpus order. An empty corpus yields an empty result.
func Search(query []float32, corpus [][]float32, threshold float64, limit int) ([]Match, error) {
	var matches []Match
	for i, candidate := range corpus {
		score, err := Similarity(query, candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		if score >= threshold {
			matches = append(matches, Match{Index: i, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
