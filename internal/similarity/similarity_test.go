package similarity

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomVector(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestSelfSimilarityIsOne(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		v := randomVector(r, 192)
		score, err := Similarity(v, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(score-1.0) > 1e-6 {
			t.Fatalf("expected self-similarity 1.0, got %v", score)
		}
	}
}

func TestSimilaritySymmetricAndBounded(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 25; i++ {
		a := randomVector(r, 64)
		b := randomVector(r, 64)
		ab, err := Similarity(a, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := Similarity(b, a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ab != ba {
			t.Fatalf("asymmetric result: %v vs %v", ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Fatalf("result out of [0,1]: %v", ab)
		}
	}
}

func TestSimilarityIgnoresScale(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	scaled := []float32{10, 20, 30, 40}
	score, err := Similarity(a, scaled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score-1.0) > 1e-6 {
		t.Fatalf("expected scale-invariant similarity 1.0, got %v", score)
	}
}

func TestSimilarityDimensionMismatch(t *testing.T) {
	a := make([]float32, 192)
	b := make([]float32, 191)
	a[0], b[0] = 1, 1
	if _, err := Similarity(a, b); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSimilarityZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 0, 0}
	score, err := Similarity(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected 0 for zero vector, got %v", score)
	}
}

func TestSearchRanksAndLimits(t *testing.T) {
	query := []float32{1, 0, 0}
	corpus := [][]float32{
		{0, 1, 0},          // orthogonal, filtered out
		{1, 0.2, 0},        // close
		{1, 0, 0},          // exact
		{0.7, 0.7, 0},      // middling
	}

	matches, err := Search(query, corpus, 0.5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Fatalf("results not sorted descending: %+v", matches)
		}
	}
	if matches[0].Index != 2 {
		t.Fatalf("expected exact match first, got index %d", matches[0].Index)
	}
	for _, m := range matches {
		if m.Score < 0.5 {
			t.Fatalf("match below threshold: %+v", m)
		}
	}

	limited, err := Search(query, corpus, 0.5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 || limited[0].Index != 2 {
		t.Fatalf("expected only the exact match, got %+v", limited)
	}
}

func TestSearchTiesKeepCorpusOrder(t *testing.T) {
	query := []float32{1, 0}
	same := []float32{1, 0}
	corpus := [][]float32{same, same, same}

	matches, err := Search(query, corpus, 0.99, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	for i, m := range matches {
		if m.Index != i {
			t.Fatalf("tie order broken: %+v", matches)
		}
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	matches, err := Search([]float32{1, 0}, nil, 0.5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected empty result, got %+v", matches)
	}
}

func TestSearchPropagatesDimensionMismatch(t *testing.T) {
	query := make([]float32, 192)
	query[0] = 1
	corpus := [][]float32{make([]float32, 191)}
	if _, err := Search(query, corpus, 0, 3); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
