// Package voiceprint exposes the extraction, comparison and search
// operations over NATS request-reply. Each subject carries a JSON request
// and replies with either the success payload or an ErrorReply.
package voiceprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlock/voxlock-core/internal/audio"
	"github.com/voxlock/voxlock-core/internal/bus"
	"github.com/voxlock/voxlock-core/internal/config"
	"github.com/voxlock/voxlock-core/internal/embedding"
	"github.com/voxlock/voxlock-core/internal/ledger"
	"github.com/voxlock/voxlock-core/internal/protocol"
	"github.com/voxlock/voxlock-core/internal/similarity"
)

var (
	errBadRequest = errors.New("bad request")
	errStorage    = errors.New("storage failure")
)

type Service struct {
	match  config.MatchConfig
	oracle config.OracleConfig
	bus    *bus.Client
	norm   *audio.Normalizer
	prov   *embedding.Provider
	store  *ledger.Store
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  bool

	meter    metric.Meter
	requests metric.Int64Counter
	failures metric.Int64Counter
}

func NewService(parent context.Context, match config.MatchConfig, oracle config.OracleConfig,
	busClient *bus.Client, norm *audio.Normalizer, prov *embedding.Provider,
	store *ledger.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		match:  match,
		oracle: oracle,
		bus:    busClient,
		norm:   norm,
		prov:   prov,
		store:  store,
		log:    log.With(slog.String("component", "voiceprint")),
		ctx:    ctx,
		cancel: cancel,
		meter:  otel.Meter("github.com/voxlock/voxlock-core/runtime"),
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics() error {
	requests, err := s.meter.Int64Counter("voxlock.requests.total",
		metric.WithDescription("Handled voiceprint requests"))
	if err != nil {
		return err
	}
	failures, err := s.meter.Int64Counter("voxlock.requests.failed",
		metric.WithDescription("Voiceprint requests answered with an error reply"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.failures = failures
	return nil
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectExtract:       s.handleExtract,
		protocol.SubjectSimilarity:    s.handleSimilarity,
		protocol.SubjectSearch:        s.handleSearch,
		protocol.SubjectRecordingGet:  s.handleRecordingGet,
		protocol.SubjectRecordingList: s.handleRecordingList,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleExtract(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var req protocol.ExtractRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respondError(msg, "extract", fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		resp, err := s.extract(req)
		if err != nil {
			s.respondError(msg, "extract", err)
			return
		}
		s.respond(msg, "extract", resp)
	}()
}

func (s *Service) extract(req protocol.ExtractRequest) (protocol.ExtractResponse, error) {
	var resp protocol.ExtractResponse
	if len(req.Audio) == 0 {
		return resp, fmt.Errorf("%w: audio payload required", errBadRequest)
	}
	mode := req.Mode
	if mode == "" {
		mode = "test"
	}
	if mode != "test" && mode != "enroll" && mode != "identify" {
		return resp, fmt.Errorf("%w: unknown mode %q", errBadRequest, mode)
	}

	wave, err := s.norm.Normalize(req.Audio)
	if err != nil {
		return resp, err
	}
	if err := s.norm.ValidateQuality(wave); err != nil {
		return resp, err
	}

	ext, err := s.prov.Get()
	if err != nil {
		return resp, fmt.Errorf("%w: %v", embedding.ErrMalformed, err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.oracle.TimeoutMS)*time.Millisecond)
	defer cancel()
	vec, err := ext.Extract(ctx, wave.Samples, wave.SampleRate)
	if err != nil {
		return resp, fmt.Errorf("%w: %v", embedding.ErrMalformed, err)
	}
	if err := embedding.Finalize(vec, s.prov.Dimensions()); err != nil {
		return resp, err
	}

	resp = protocol.ExtractResponse{
		Embedding:     vec,
		Dimensions:    len(vec),
		AudioDuration: wave.Duration(),
	}

	if !shouldPersist(mode, req.UserID) {
		return resp, nil
	}
	rec := ledger.Recording{
		UserID:          req.UserID,
		VoiceprintID:    req.VoiceprintID,
		Mode:            mode,
		Status:          "completed",
		Filename:        req.Filename,
		Embedding:       vec,
		DurationSeconds: wave.Duration(),
		SampleRate:      wave.SampleRate,
		AudioFormat:     wave.Format,
		FileSizeBytes:   int64(len(req.Audio)),
	}
	if mode == "test" {
		rec.VoiceprintID = ""
	}
	id, err := s.store.Insert(s.ctx, rec)
	if err != nil {
		if s.match.PersistFailurePolicy == "surface" {
			if errors.Is(err, ledger.ErrInvalidEmbedding) || errors.Is(err, ledger.ErrInvalidRecord) {
				return resp, err
			}
			return resp, fmt.Errorf("%w: %v", errStorage, err)
		}
		s.log.Warn("failed to persist recording",
			slog.String("mode", mode),
			slog.String("error", err.Error()))
		return resp, nil
	}
	resp.RecordingID = id
	return resp, nil
}

// shouldPersist decides whether an extraction leaves a ledger record.
// Anonymous test extractions stay ephemeral.
func shouldPersist(mode, userID string) bool {
	if mode == "test" {
		return userID != ""
	}
	return true
}

func (s *Service) handleSimilarity(msg *nats.Msg) {
	var req protocol.SimilarityRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(msg, "similarity", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	threshold := s.match.VerifyThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
		if threshold < 0 || threshold > 1 {
			s.respondError(msg, "similarity",
				fmt.Errorf("%w: threshold %v outside [0, 1]", errBadRequest, threshold))
			return
		}
	}

	score, err := similarity.Similarity(req.Embedding1, req.Embedding2)
	if err != nil {
		s.respondError(msg, "similarity", err)
		return
	}
	s.respond(msg, "similarity", protocol.SimilarityResponse{
		Similarity: score,
		Match:      score >= threshold,
		Threshold:  threshold,
	})
}

func (s *Service) handleSearch(msg *nats.Msg) {
	var req protocol.SearchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(msg, "search", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	threshold, limit := s.searchParams(req.Threshold, req.Limit)
	matches, err := s.store.SearchByEmbedding(s.ctx, req.QueryEmbedding, threshold, limit, req.RecordingID)
	if err != nil {
		s.respondError(msg, "search", err)
		return
	}

	out := make([]protocol.SearchMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, protocol.SearchMatch{
			RecordingID:     m.Recording.ID,
			UserID:          m.Recording.UserID,
			Similarity:      m.Similarity,
			CreatedAt:       m.Recording.CreatedAt,
			Mode:            m.Recording.Mode,
			Filename:        m.Recording.Filename,
			DurationSeconds: m.Recording.DurationSeconds,
			VoiceprintID:    m.Recording.VoiceprintID,
		})
	}
	s.respond(msg, "search", protocol.SearchResponse{Count: len(out), Matches: out})
}

// searchParams applies defaults and clamps caller-supplied knobs into range.
func (s *Service) searchParams(threshold *float64, limit *int) (float64, int) {
	t := s.match.SearchThreshold
	if threshold != nil {
		t = *threshold
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
	}
	l := s.match.SearchLimit
	if limit != nil {
		l = *limit
	}
	if l < 1 {
		l = 1
	}
	if l > s.match.MaxSearchLimit {
		l = s.match.MaxSearchLimit
	}
	return t, l
}

func (s *Service) handleRecordingGet(msg *nats.Msg) {
	var req protocol.RecordingGetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(msg, "recordings.get", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.RecordingID == "" {
		s.respondError(msg, "recordings.get", fmt.Errorf("%w: recording_id required", errBadRequest))
		return
	}
	rec, err := s.store.Get(s.ctx, req.RecordingID)
	if err != nil {
		s.respondError(msg, "recordings.get", err)
		return
	}
	s.respond(msg, "recordings.get", toProtocol(rec, true))
}

func (s *Service) handleRecordingList(msg *nats.Msg) {
	var req protocol.RecordingListRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(msg, "recordings.list", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if (req.UserID == "") == (req.VoiceprintID == "") {
		s.respondError(msg, "recordings.list",
			fmt.Errorf("%w: exactly one of user_id or voiceprint_id required", errBadRequest))
		return
	}

	var recs []ledger.Recording
	if req.UserID != "" {
		recs = s.store.ListByUser(s.ctx, req.UserID, req.Limit)
	} else {
		recs = s.store.ListByVoiceprint(s.ctx, req.VoiceprintID)
	}

	out := make([]protocol.Recording, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toProtocol(rec, false))
	}
	s.respond(msg, "recordings.list", protocol.RecordingListResponse{Count: len(out), Recordings: out})
}

func toProtocol(rec ledger.Recording, includeEmbedding bool) protocol.Recording {
	out := protocol.Recording{
		RecordingID:     rec.ID,
		UserID:          rec.UserID,
		VoiceprintID:    rec.VoiceprintID,
		Mode:            rec.Mode,
		Status:          rec.Status,
		Filename:        rec.Filename,
		DurationSeconds: rec.DurationSeconds,
		SampleRate:      rec.SampleRate,
		AudioFormat:     rec.AudioFormat,
		FileSizeBytes:   rec.FileSizeBytes,
		SimilarityScore: rec.SimilarityScore,
		MatchedUserID:   rec.MatchedUserID,
		Metadata:        rec.Metadata,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if includeEmbedding {
		out.Embedding = rec.Embedding
		out.Dimensions = rec.Dimensions
	}
	return out
}

func (s *Service) respond(msg *nats.Msg, op string, payload any) {
	s.count(op, "ok")
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal reply", slog.String("op", op), slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to send reply", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func (s *Service) respondError(msg *nats.Msg, op string, err error) {
	code := errorCode(err)
	s.count(op, code)
	if s.failures != nil {
		s.failures.Add(s.ctx, 1, metric.WithAttributes(
			attribute.String("op", op), attribute.String("code", code)))
	}
	if protocol.ValidationCode(code) {
		s.log.Debug("rejected request", slog.String("op", op), slog.String("code", code),
			slog.String("error", err.Error()))
	} else {
		s.log.Error("request failed", slog.String("op", op), slog.String("code", code),
			slog.String("error", err.Error()))
	}

	data, merr := json.Marshal(protocol.ErrorReply{Error: err.Error(), Code: code})
	if merr != nil {
		return
	}
	if rerr := msg.Respond(data); rerr != nil {
		s.log.Warn("failed to send error reply", slog.String("op", op), slog.String("error", rerr.Error()))
	}
}

func (s *Service) count(op, result string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(s.ctx, 1, metric.WithAttributes(
		attribute.String("op", op), attribute.String("result", result)))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return protocol.CodeBadRequest
	case errors.Is(err, audio.ErrDecode):
		return protocol.CodeDecodeError
	case errors.Is(err, audio.ErrDurationOutOfRange):
		return protocol.CodeDurationRange
	case errors.Is(err, audio.ErrLowQuality):
		return protocol.CodeLowQuality
	case errors.Is(err, similarity.ErrDimensionMismatch):
		return protocol.CodeDimensionMismatch
	case errors.Is(err, embedding.ErrMalformed):
		return protocol.CodeOracleError
	case errors.Is(err, ledger.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, ledger.ErrInvalidEmbedding):
		return protocol.CodeInvalidEmbedding
	case errors.Is(err, ledger.ErrInvalidRecord):
		return protocol.CodeBadRequest
	case errors.Is(err, errStorage):
		return protocol.CodeStorageError
	}
	return protocol.CodeInternal
}
