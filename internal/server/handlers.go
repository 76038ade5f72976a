package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aarutech20/indicVoice/internal/apperr"
	"github.com/aarutech20/indicVoice/internal/audio"
	"github.com/aarutech20/indicVoice/internal/ingest"
	"github.com/aarutech20/indicVoice/internal/protocol"
	"github.com/aarutech20/indicVoice/internal/store"
)

type transcribeRequest struct {
	AudioData    string `json:"audio_data"`
	SessionID    string `json:"session_id" validate:"required,max=100"`
	LanguageCode string `json:"language_code" validate:"required,max=10"`
	ChunkNumber  int    `json:"chunk_number" validate:"min=0"`
	SampleRate   int    `json:"sample_rate" validate:"gt=0"`
}

type transcribeResponse struct {
	SessionID     string    `json:"session_id"`
	ChunkNumber   int       `json:"chunk_number"`
	Transcription string    `json:"transcription"`
	Confidence    *float64  `json:"confidence"`
	Language      string    `json:"language"`
	Timestamp     time.Time `json:"timestamp"`
}

type createSessionRequest struct {
	SessionID    string `json:"session_id" validate:"omitempty,max=100"`
	LanguageCode string `json:"language_code" validate:"required,max=10"`
}

type resultEntry struct {
	ChunkNumber int       `json:"chunk_number"`
	Text        string    `json:"transcription_text"`
	Confidence  *float64  `json:"confidence_score"`
	Timestamp   time.Time `json:"timestamp"`
}

type sessionResultsResponse struct {
	SessionID string        `json:"session_id"`
	Language  string        `json:"language"`
	Results   []resultEntry `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleHealth implements the /api/health/ endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	engine := h.pipeline.Engine()

	status := "healthy"
	code := http.StatusOK
	if err := h.pipeline.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", slog.String("error", err.Error()))
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"model_loaded": engine.Ready(ctx),
		"engine":       engine.Name(),
		"storage":      h.storage,
		"uptime":       time.Since(h.startTime).Round(time.Second).String(),
	})
}

// handleLanguages implements the /api/languages/ endpoint
func (h *HTTPServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": h.pipeline.Languages().List(),
	})
}

// handleTranscribe ingests one base64 chunk.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	req := transcribeRequest{SampleRate: protocol.DefaultSampleRate}
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	raw, err := audio.DecodeBase64(req.AudioData)
	if err != nil {
		h.writeError(w, r, apperr.Validation("Invalid audio data format"))
		return
	}

	// A client that hangs up does not abort a chunk already being transcribed.
	res, err := h.pipeline.Ingest(context.WithoutCancel(r.Context()), ingest.Request{
		SessionID:    req.SessionID,
		LanguageCode: req.LanguageCode,
		ChunkNumber:  req.ChunkNumber,
		Audio:        raw,
		SampleRate:   req.SampleRate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		SessionID:     res.SessionID,
		ChunkNumber:   res.ChunkNumber,
		Transcription: res.Text,
		Confidence:    res.Confidence,
		Language:      res.LanguageName,
		Timestamp:     res.Timestamp,
	})
}

// handleCreateSession creates a session, generating an id when none is given.
func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req := createSessionRequest{LanguageCode: protocol.DefaultLanguageCode}
	if err := h.decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	sess, created, err := h.pipeline.StartSession(r.Context(), req.SessionID, req.LanguageCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, sess)
}

func (h *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.pipeline.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
}

func (h *HTTPServer) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	sr, err := h.pipeline.SessionResults(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResultsResponse{
		SessionID: sr.Session.ID,
		Language:  sr.LanguageName,
		Results:   toEntries(sr.Results),
	})
}

func toEntries(results []store.ChunkResult) []resultEntry {
	out := make([]resultEntry, 0, len(results))
	for _, r := range results {
		out = append(out, resultEntry{
			ChunkNumber: r.ChunkNumber,
			Text:        r.Text,
			Confidence:  r.Confidence,
			Timestamp:   r.Timestamp,
		})
	}
	return out
}

// decodeBody reads a JSON body into dst. An empty body yields io.EOF.
func (h *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("Invalid JSON format")
	}
	return nil
}

// writeError maps err to a status code and a JSON error body.
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, io.EOF) {
		err = apperr.Validation("Request body is required")
	}

	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, errorResponse{Error: clientMessage(err), Code: kind.String()})
}

// clientMessage is the error text shown to clients. Internal causes are not
// exposed.
func clientMessage(err error) string {
	var pe *protocol.ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		if apperr.IsKind(err, apperr.KindCancelled) {
			return "operation cancelled"
		}
		return "Internal server error"
	}

	switch ae.Kind {
	case apperr.KindTranscriptionFailed:
		if ae.Cause != nil {
			return "Transcription failed: " + ae.Cause.Error()
		}
		return "Transcription failed"
	case apperr.KindStorage:
		return "Storage unavailable"
	case apperr.KindInternal:
		return "Internal server error"
	default:
		return ae.Message
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// newSessionID returns a random id made of word characters only, so it is
// also valid in the WebSocket path.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
