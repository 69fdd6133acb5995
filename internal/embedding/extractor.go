// Package embedding defines the speaker-embedding oracle contract. The model
// itself is an external collaborator; this package only knows how to invoke a
// backend and how to sanitize whatever it returns before the vector touches
// similarity math or storage.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/voxlock/voxlock-core/internal/config"
)

// ErrMalformed marks an oracle response that violates the contract
// (wrong dimensionality or a zero vector).
var ErrMalformed = errors.New("malformed oracle output")

// Extractor maps a normalized waveform to a speaker-embedding vector.
type Extractor interface {
	Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
}

// NewExtractor builds the backend selected by config.
func NewExtractor(cfg config.OracleConfig) (Extractor, error) {
	switch cfg.Mode {
	case "mock":
		return newMockExtractor(cfg.Dimensions), nil
	case "exec":
		return newExecExtractor(cfg)
	default:
		return nil, fmt.Errorf("unknown oracle mode %q", cfg.Mode)
	}
}

// Finalize validates an oracle response and renormalizes it in place. The
// oracle's own normalization is never trusted; an un-normalized or malformed
// response must not corrupt downstream similarity math.
func Finalize(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d values, want %d", ErrMalformed, len(vec), dims)
	}
	if err := NormalizeL2(vec); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// NormalizeL2 scales vec in place to unit L2 norm. A zero vector cannot be
// normalized and is reported as an error.
func NormalizeL2(vec []float32) error {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return errors.New("zero-norm vector")
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / magnitude)
	}
	return nil
}
