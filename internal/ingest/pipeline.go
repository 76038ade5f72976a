package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aarutech20/indicVoice/internal/apperr"
	"github.com/aarutech20/indicVoice/internal/audio"
	"github.com/aarutech20/indicVoice/internal/language"
	"github.com/aarutech20/indicVoice/internal/metrics"
	"github.com/aarutech20/indicVoice/internal/publish"
	"github.com/aarutech20/indicVoice/internal/session"
	"github.com/aarutech20/indicVoice/internal/store"
	"github.com/aarutech20/indicVoice/internal/transcription"
)

const (
	DefaultSampleRate     = 16000
	defaultPublishTimeout = 5 * time.Second
)

// Chunk outcomes, used as metric labels.
const (
	outcomeOK     = "ok"
	outcomeSilent = "silent"
	outcomeFailed = "transcription_failed"
)

// Config tunes the pipeline.
type Config struct {
	MaxChunkBytes     int // 0 means unlimited
	DefaultSampleRate int
	PublishTimeout    time.Duration
}

// Dependencies are the collaborators of the pipeline. Publisher, Metrics and
// Logger are optional.
type Dependencies struct {
	Registry  *session.Registry
	Store     store.Store
	Engine    transcription.Engine
	Languages *language.Table
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Request is one chunk submitted by a transport adapter.
type Request struct {
	SessionID    string
	LanguageCode string
	ChunkNumber  int
	Audio        []byte // little-endian float32 samples
	SampleRate   int
}

// Result is the stored outcome of one chunk.
type Result struct {
	ID           int64
	SessionID    string
	ChunkNumber  int
	Text         string
	Confidence   *float64
	LanguageCode string
	LanguageName string
	Timestamp    time.Time
}

// SessionResults is a session together with its ordered results.
type SessionResults struct {
	Session      *store.Session
	LanguageName string
	Results      []store.ChunkResult
}

// Pipeline ingests chunks. It is safe for concurrent use.
type Pipeline struct {
	registry  *session.Registry
	store     store.Store
	engine    transcription.Engine
	languages *language.Table
	publisher publish.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// NewPipeline creates a pipeline. Registry, Store, Engine and Languages are
// required.
func NewPipeline(deps Dependencies, config Config) (*Pipeline, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("ingest: registry is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("ingest: store is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("ingest: transcription engine is required")
	case deps.Languages == nil:
		return nil, fmt.Errorf("ingest: language table is required")
	}

	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.DefaultSampleRate <= 0 {
		config.DefaultSampleRate = DefaultSampleRate
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}

	return &Pipeline{
		registry:  deps.Registry,
		store:     deps.Store,
		engine:    deps.Engine,
		languages: deps.Languages,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Languages returns the injected language table.
func (p *Pipeline) Languages() *language.Table { return p.languages }

// Engine returns the transcription engine.
func (p *Pipeline) Engine() transcription.Engine { return p.engine }

// Ingest validates, transcribes and records one chunk.
//
// Validation errors are returned before anything is written. When the engine
// fails, the chunk is recorded with an error marker and both the result and a
// TranscriptionFailed error are returned. Once a transcript exists it is
// persisted even if ctx is cancelled meanwhile.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return nil, err
	}

	samples, sampleRate, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	if _, _, err := p.registry.CreateOrGet(ctx, req.SessionID, req.LanguageCode); err != nil {
		return nil, err
	}

	transcript, engineErr := p.transcribe(ctx, samples, sampleRate, req.LanguageCode)
	if engineErr != nil && ctx.Err() != nil && errors.Is(engineErr, ctx.Err()) {
		p.logger.Info("Chunk abandoned during transcription",
			slog.String("session_id", req.SessionID),
			slog.Int("chunk_number", req.ChunkNumber),
		)
		return nil, apperr.Cancelled(engineErr)
	}

	outcome := outcomeOK
	switch {
	case engineErr != nil:
		outcome = outcomeFailed
		transcript = &transcription.Transcript{Text: errorMarker(engineErr)}
		p.logger.Warn("Transcription failed, recording error marker",
			slog.String("session_id", req.SessionID),
			slog.Int("chunk_number", req.ChunkNumber),
			slog.String("engine", p.engine.Name()),
			slog.String("error", engineErr.Error()),
		)
	case transcript.Text == "":
		outcome = outcomeSilent
	}

	writeCtx := context.WithoutCancel(ctx)
	stored, err := p.appendResult(writeCtx, store.ChunkResult{
		SessionID:   req.SessionID,
		ChunkNumber: req.ChunkNumber,
		Text:        transcript.Text,
		Confidence:  transcript.Confidence,
		Timestamp:   p.now(),
	})
	if err != nil {
		return nil, err
	}

	p.metrics.RecordChunk(outcome, audio.Duration(len(samples), sampleRate), len(req.Audio))
	p.publish(writeCtx, req.LanguageCode, stored, engineErr != nil)

	p.logger.Debug("Chunk ingested",
		slog.String("session_id", req.SessionID),
		slog.Int("chunk_number", req.ChunkNumber),
		slog.Int("samples", len(samples)),
		slog.String("outcome", outcome),
	)

	result := &Result{
		ID:           stored.ID,
		SessionID:    stored.SessionID,
		ChunkNumber:  stored.ChunkNumber,
		Text:         stored.Text,
		Confidence:   stored.Confidence,
		LanguageCode: req.LanguageCode,
		LanguageName: p.languages.NameOr(req.LanguageCode, req.LanguageCode),
		Timestamp:    stored.Timestamp,
	}

	if engineErr != nil {
		return result, apperr.TranscriptionFailed(engineErr)
	}
	return result, nil
}

func (p *Pipeline) validate(req Request) ([]float32, int, error) {
	if req.SessionID == "" {
		return nil, 0, apperr.Validation("session id is required")
	}
	if req.ChunkNumber < 0 {
		return nil, 0, apperr.Validation("chunk number must be non-negative, got %d", req.ChunkNumber)
	}
	if req.SampleRate < 0 {
		return nil, 0, apperr.Validation("sample rate must be positive, got %d", req.SampleRate)
	}
	if p.config.MaxChunkBytes > 0 && len(req.Audio) > p.config.MaxChunkBytes {
		return nil, 0, apperr.Validation("audio chunk of %d bytes exceeds limit of %d bytes", len(req.Audio), p.config.MaxChunkBytes)
	}

	samples, err := audio.DecodeFloat32LE(req.Audio)
	if err != nil {
		return nil, 0, apperr.Validation("invalid audio data: %v", err)
	}

	if !p.languages.Supports(req.LanguageCode) {
		return nil, 0, apperr.UnsupportedLanguage(req.LanguageCode)
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = p.config.DefaultSampleRate
	}
	return samples, sampleRate, nil
}

// transcribe calls the engine without holding any session lock. Empty audio
// is silence and skips the engine.
func (p *Pipeline) transcribe(ctx context.Context, samples []float32, sampleRate int, languageCode string) (*transcription.Transcript, error) {
	if len(samples) == 0 {
		return &transcription.Transcript{}, nil
	}

	start := time.Now()
	t, err := p.engine.Transcribe(ctx, samples, sampleRate, languageCode)
	p.metrics.RecordTranscription(p.engine.Name(), time.Since(start).Seconds(), err != nil)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &transcription.Transcript{}, nil
	}

	if t.Confidence != nil && (*t.Confidence < 0 || *t.Confidence > 1) {
		p.logger.Warn("Dropping out-of-range confidence",
			slog.String("engine", p.engine.Name()),
			slog.Float64("confidence", *t.Confidence),
		)
		t = &transcription.Transcript{Text: t.Text}
	}
	return t, nil
}

func (p *Pipeline) appendResult(ctx context.Context, r store.ChunkResult) (*store.ChunkResult, error) {
	unlock, err := p.registry.Lock(ctx, r.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := p.store.AppendResult(ctx, r)
	if err != nil {
		p.metrics.RecordStoreError("append_result")
		p.logger.Error("Failed to append chunk result",
			slog.String("session_id", r.SessionID),
			slog.Int("chunk_number", r.ChunkNumber),
			slog.String("error", err.Error()),
		)
		return nil, apperr.Storage("append_result", err)
	}
	return stored, nil
}

func (p *Pipeline) publish(ctx context.Context, languageCode string, r *store.ChunkResult, failed bool) {
	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	err := p.publisher.Publish(ctx, publish.Event{
		SessionID:    r.SessionID,
		LanguageCode: languageCode,
		ChunkNumber:  r.ChunkNumber,
		ResultID:     r.ID,
		Text:         r.Text,
		Confidence:   r.Confidence,
		Failed:       failed,
		Timestamp:    r.Timestamp,
	})
	p.metrics.RecordPublish(err)
	if err != nil {
		p.logger.Warn("Failed to publish chunk result",
			slog.String("session_id", r.SessionID),
			slog.Int("chunk_number", r.ChunkNumber),
			slog.String("error", err.Error()),
		)
	}
}

// StartSession validates the id and language, then creates the session if it
// does not exist yet. created reports whether this call inserted it.
func (p *Pipeline) StartSession(ctx context.Context, sessionID, languageCode string) (*store.Session, bool, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return nil, false, err
	}
	if sessionID == "" {
		return nil, false, apperr.Validation("session id is required")
	}
	if !p.languages.Supports(languageCode) {
		return nil, false, apperr.UnsupportedLanguage(languageCode)
	}
	return p.registry.CreateOrGet(ctx, sessionID, languageCode)
}

// GetSession returns the session or a NotFound error.
func (p *Pipeline) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	return p.registry.Get(ctx, sessionID)
}

// EndSession marks the session inactive. Unknown ids are not an error.
func (p *Pipeline) EndSession(ctx context.Context, sessionID string) error {
	return p.registry.End(ctx, sessionID)
}

// Ping checks the durable store.
func (p *Pipeline) Ping(ctx context.Context) error {
	return p.registry.Ping(ctx)
}

// ListResults returns the session's results ordered by chunk number, then by
// insertion. A session without results yields an empty slice.
func (p *Pipeline) ListResults(ctx context.Context, sessionID string) ([]store.ChunkResult, error) {
	sr, err := p.SessionResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sr.Results, nil
}

// SessionResults returns the session, its language display name and its
// ordered results.
func (p *Pipeline) SessionResults(ctx context.Context, sessionID string) (*SessionResults, error) {
	sess, err := p.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	results, err := p.store.ListResults(ctx, sessionID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.Cancelled(ctxErr)
		}
		p.metrics.RecordStoreError("list_results")
		return nil, apperr.Storage("list_results", err)
	}
	if results == nil {
		results = []store.ChunkResult{}
	}

	return &SessionResults{
		Session:      sess,
		LanguageName: p.languages.NameOr(sess.LanguageCode, sess.LanguageCode),
		Results:      results,
	}, nil
}

func errorMarker(err error) string {
	return fmt.Sprintf("[Transcription error: %v]", err)
}
