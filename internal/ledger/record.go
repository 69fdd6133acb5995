package ledger

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Recording is one attempt to capture or match a voice. The embedding and
// provenance fields are immutable once the row is written.
type Recording struct {
	ID              string
	UserID          string
	VoiceprintID    string
	Mode            string // test, enroll, identify
	Status          string // processing, completed, failed
	Filename        string
	Embedding       []float32
	Dimensions      int
	DurationSeconds float64
	SampleRate      int
	AudioFormat     string
	FileSizeBytes   int64
	SimilarityScore *float64
	MatchedUserID   string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MatchResult pairs a stored recording with its similarity to a query.
type MatchResult struct {
	Recording  Recording
	Similarity float64
}

// unitNormTolerance bounds the allowed deviation of a stored embedding's
// L2 norm from 1. Float32 accumulation over 192 dimensions stays well
// inside this.
const unitNormTolerance = 1e-3

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("embedding blob holds %d bytes, want %d", len(blob), 4*dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func embeddingNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
