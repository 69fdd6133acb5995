package protocol

import "time"

// ExtractRequest carries a complete utterance to the extraction service.
// Audio holds the raw container bytes (base64 on the wire via JSON encoding).
type ExtractRequest struct {
	Audio        []byte `json:"audio"`
	Filename     string `json:"filename,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Mode         string `json:"mode,omitempty"`
	VoiceprintID string `json:"voiceprint_id,omitempty"`
}

type ExtractResponse struct {
	Embedding     []float32 `json:"embedding"`
	Dimensions    int       `json:"dimensions"`
	AudioDuration float64   `json:"audio_duration"`
	RecordingID   string    `json:"recording_id,omitempty"`
}

type SimilarityRequest struct {
	Embedding1 []float32 `json:"embedding1"`
	Embedding2 []float32 `json:"embedding2"`
	Threshold  *float64  `json:"threshold,omitempty"`
}

type SimilarityResponse struct {
	Similarity float64 `json:"similarity"`
	Match      bool    `json:"match"`
	Threshold  float64 `json:"threshold"`
}

type SearchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	RecordingID    string    `json:"recording_id,omitempty"` // excluded from results
	Threshold      *float64  `json:"threshold,omitempty"`
	Limit          *int      `json:"limit,omitempty"`
}

type SearchMatch struct {
	RecordingID     string    `json:"recording_id"`
	UserID          string    `json:"user_id,omitempty"`
	Similarity      float64   `json:"similarity"`
	CreatedAt       time.Time `json:"created_at"`
	Mode            string    `json:"mode"`
	Filename        string    `json:"filename,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	VoiceprintID    string    `json:"voiceprint_id,omitempty"`
}

type SearchResponse struct {
	Count   int           `json:"count"`
	Matches []SearchMatch `json:"matches"`
}

type RecordingGetRequest struct {
	RecordingID string `json:"recording_id"`
}

// RecordingListRequest selects recordings by owner or by enrolled identity.
// Exactly one of UserID / VoiceprintID should be set.
type RecordingListRequest struct {
	UserID       string `json:"user_id,omitempty"`
	VoiceprintID string `json:"voiceprint_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

type Recording struct {
	RecordingID     string         `json:"recording_id"`
	UserID          string         `json:"user_id,omitempty"`
	VoiceprintID    string         `json:"voiceprint_id,omitempty"`
	Mode            string         `json:"mode"`
	Status          string         `json:"status"`
	Filename        string         `json:"filename,omitempty"`
	Embedding       []float32      `json:"embedding,omitempty"`
	Dimensions      int            `json:"dimensions,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	SampleRate      int            `json:"sample_rate"`
	AudioFormat     string         `json:"audio_format,omitempty"`
	FileSizeBytes   int64          `json:"file_size_bytes,omitempty"`
	SimilarityScore *float64       `json:"similarity_score,omitempty"`
	MatchedUserID   string         `json:"matched_user_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type RecordingListResponse struct {
	Count      int         `json:"count"`
	Recordings []Recording `json:"recordings"`
}

// ErrorReply is returned instead of the success payload when a request fails.
// Codes in the validation class describe caller mistakes; anything else is an
// internal failure.
type ErrorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	SubjectExtract       = "voice.extract"
	SubjectSimilarity    = "voice.similarity"
	SubjectSearch        = "voice.search"
	SubjectRecordingGet  = "voice.recordings.get"
	SubjectRecordingList = "voice.recordings.list"
)

// Error codes for ErrorReply.Code.
const (
	CodeBadRequest       = "bad_request"
	CodeDecodeError      = "decode_error"
	CodeDurationRange    = "duration_out_of_range"
	CodeLowQuality       = "low_quality"
	CodeDimensionMismatch = "dimension_mismatch"
	CodeInvalidEmbedding = "invalid_embedding"
	CodeNotFound         = "not_found"
	CodeOracleError      = "oracle_error"
	CodeStorageError     = "storage_error"
	CodeInternal         = "internal"
)

// ValidationCode reports whether code belongs to the caller-error class.
func ValidationCode(code string) bool {
	switch code {
	case CodeBadRequest, CodeDecodeError, CodeDurationRange, CodeLowQuality,
		CodeDimensionMismatch, CodeInvalidEmbedding, CodeNotFound:
		return true
	}
	return false
}
