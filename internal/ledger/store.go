// Package ledger is the authoritative store of recording records. Inserts
// are atomic accept-or-reject and insert failures are always surfaced;
// corpus reads (search, listings) deliberately degrade to empty results on
// storage errors so matching stays best-effort through transient store
// issues. Embeddings are validated at both the write and read boundary and
// never mutated after insert.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/voxlock/voxlock-core/internal/config"
	"github.com/voxlock/voxlock-core/internal/similarity"
)

var (
	// ErrNotFound is returned when no recording exists for an id.
	ErrNotFound = errors.New("recording not found")
	// ErrInvalidEmbedding is returned when an embedding fails the
	// dimensionality or unit-norm invariant on insert.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrInvalidRecord is returned when a record violates the data model
	// (unknown mode/status, test record with a voiceprint reference).
	ErrInvalidRecord = errors.New("invalid recording record")
)

// Store wraps the SQLite-backed recordings table.
type Store struct {
	db    *sql.DB
	cfg   config.LedgerConfig
	dims  int
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the ledger according to config. dims fixes the
// dimensionality every stored embedding must carry.
func Open(ctx context.Context, cfg config.LedgerConfig, dims int, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, dims: dims, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    recording_id TEXT PRIMARY KEY,
    user_id TEXT,
    voiceprint_id TEXT,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    filename TEXT,
    embedding BLOB,
    embedding_dimensions INTEGER,
    duration_seconds REAL,
    sample_rate INTEGER,
    audio_format TEXT,
    file_size_bytes INTEGER,
    similarity_score REAL,
    matched_user_id TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_user ON recordings(user_id);
CREATE INDEX IF NOT EXISTS idx_recordings_voiceprint ON recordings(voiceprint_id);
CREATE INDEX IF NOT EXISTS idx_recordings_mode ON recordings(mode);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert validates rec, assigns a fresh id and timestamps, and writes the
// row. Nothing is written when validation fails; a storage failure leaves
// the caller free to retry with the same record.
func (s *Store) Insert(ctx context.Context, rec Recording) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", err
	}
	if err := s.validateEmbedding(rec.Embedding); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.clock().UTC()

	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings(
		    recording_id, user_id, voiceprint_id, mode, status, filename,
		    embedding, embedding_dimensions, duration_seconds, sample_rate,
		    audio_format, file_size_bytes, similarity_score, matched_user_id,
		    metadata, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(rec.UserID), nullable(rec.VoiceprintID), rec.Mode, rec.Status,
		nullable(rec.Filename), encodeEmbedding(rec.Embedding), len(rec.Embedding),
		rec.DurationSeconds, rec.SampleRate, nullable(rec.AudioFormat),
		rec.FileSizeBytes, rec.SimilarityScore, nullable(rec.MatchedUserID),
		metadata, now, now)
	if err != nil {
		return "", fmt.Errorf("insert recording: %w", err)
	}
	return id, nil
}

// Get retrieves a recording by id.
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE recording_id = ?`, id)
	rec, err := scanRecording(row, s.dims)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Recording{}, err
	}
	return rec, nil
}

// ListByUser returns up to limit recordings owned by userID, newest first.
// Storage errors degrade to an empty result.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) []Recording {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
}

// ListByVoiceprint returns recordings enrolled under voiceprintID, newest
// first. Storage errors degrade to an empty result.
func (s *Store) ListByVoiceprint(ctx context.Context, voiceprintID string) []Recording {
	return s.list(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE voiceprint_id = ? ORDER BY created_at DESC`, voiceprintID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) []Recording {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Warn("ledger query failed", slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows, s.dims)
		if err != nil {
			s.log.Warn("skipping unreadable recording row", slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("ledger row iteration failed", slog.String("error", err.Error()))
	}
	return recs
}

// SearchByEmbedding ranks the stored corpus against query and returns at
// most limit matches scoring at or above threshold. The corpus is walked in
// insertion order so equal scores keep that order. excludeID, when set,
// drops that recording from the candidates. Storage errors degrade to an
// empty result; a query/corpus dimension disagreement is a caller error and
// is returned.
func (s *Store) SearchByEmbedding(ctx context.Context, query []float32, threshold float64, limit int, excludeID string) ([]MatchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE embedding IS NOT NULL ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		s.log.Warn("ledger corpus query failed", slog.String("error", err.Error()))
		return nil, nil
	}
	defer rows.Close()

	var candidates []Recording
	var corpus [][]float32
	for rows.Next() {
		rec, err := scanRecording(rows, s.dims)
		if err != nil {
			s.log.Warn("skipping unreadable recording row", slog.String("error", err.Error()))
			continue
		}
		if excludeID != "" && rec.ID == excludeID {
			continue
		}
		candidates = append(candidates, rec)
		corpus = append(corpus, rec.Embedding)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("ledger corpus iteration failed", slog.String("error", err.Error()))
		return nil, nil
	}

	matches, err := similarity.Search(query, corpus, threshold, limit)
	if err != nil {
		return nil, err
	}

	results := make([]MatchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, MatchResult{
			Recording:  candidates[m.Index],
			Similarity: m.Score,
		})
	}
	return results, nil
}

func (s *Store) validateEmbedding(vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("%w: %d dimensions, want %d", ErrInvalidEmbedding, len(vec), s.dims)
	}
	norm := embeddingNorm(vec)
	if math.Abs(norm-1) > unitNormTolerance {
		return fmt.Errorf("%w: L2 norm %.6f is not unit", ErrInvalidEmbedding, norm)
	}
	return nil
}

func validateRecord(rec Recording) error {
	switch rec.Mode {
	case "test", "enroll", "identify":
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRecord, rec.Mode)
	}
	switch rec.Status {
	case "processing", "completed", "failed":
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.Mode == "test" && rec.VoiceprintID != "" {
		return fmt.Errorf("%w: test recordings must not reference a voiceprint", ErrInvalidRecord)
	}
	if rec.SimilarityScore != nil && rec.MatchedUserID == "" {
		return fmt.Errorf("%w: similarity score without a matched user", ErrInvalidRecord)
	}
	return nil
}

const recordingColumns = `recording_id, user_id, voiceprint_id, mode, status,
    filename, embedding, embedding_dimensions, duration_seconds, sample_rate,
    audio_format, file_size_bytes, similarity_score, matched_user_id,
    metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner, dims int) (Recording, error) {
	var rec Recording
	var userID, voiceprintID, filename, audioFormat, matchedUserID, metadata sql.NullString
	var blob []byte
	var blobDims sql.NullInt64
	var score sql.NullFloat64
	var created, updated string

	err := row.Scan(&rec.ID, &userID, &voiceprintID, &rec.Mode, &rec.Status,
		&filename, &blob, &blobDims, &rec.DurationSeconds, &rec.SampleRate,
		&audioFormat, &rec.FileSizeBytes, &score, &matchedUserID,
		&metadata, &created, &updated)
	if err != nil {
		return Recording{}, err
	}

	rec.UserID = userID.String
	rec.VoiceprintID = voiceprintID.String
	rec.Filename = filename.String
	rec.AudioFormat = audioFormat.String
	rec.MatchedUserID = matchedUserID.String
	if score.Valid {
		v := score.Float64
		rec.SimilarityScore = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return Recording{}, fmt.Errorf("recording %s: decode metadata: %w", rec.ID, err)
		}
	}
	if len(blob) > 0 {
		if int(blobDims.Int64) != dims {
			return Recording{}, fmt.Errorf("recording %s: stored dimensionality %d, want %d", rec.ID, blobDims.Int64, dims)
		}
		rec.Embedding, err = decodeEmbedding(blob, dims)
		if err != nil {
			return Recording{}, fmt.Errorf("recording %s: %w", rec.ID, err)
		}
		rec.Dimensions = dims
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
