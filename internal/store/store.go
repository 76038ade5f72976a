package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one logical recording/transcription conversation.
type Session struct {
	ID           string    `json:"session_id"`
	LanguageCode string    `json:"language_code"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChunkResult is the transcription output for one chunk of one session.
// Results are immutable once appended.
type ChunkResult struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	ChunkNumber int       `json:"chunk_number"`
	Text        string    `json:"transcription_text"`
	Confidence  *float64  `json:"confidence_score"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store is the durable store used by the registry and the pipeline.
// Implementations must be safe for concurrent use; every write is atomic.
type Store interface {
	// CreateSessionIfAbsent inserts s unless a session with the same ID
	// exists. It returns the stored session and whether this call created it.
	CreateSessionIfAbsent(ctx context.Context, s Session) (*Session, bool, error)

	// GetSession returns ErrNotFound for an unknown id.
	GetSession(ctx context.Context, id string) (*Session, error)

	// EndSession marks the session inactive and bumps UpdatedAt to at (never
	// backwards). It reports whether the session existed.
	EndSession(ctx context.Context, id string, at time.Time) (bool, error)

	// AppendResult appends r and returns it with its assigned ID.
	AppendResult(ctx context.Context, r ChunkResult) (*ChunkResult, error)

	// ListResults returns results ordered by chunk number, then by ID.
	ListResults(ctx context.Context, sessionID string) ([]ChunkResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// Float64 returns a pointer to v, for optional confidence values.
func Float64(v float64) *float64 {
	return &v
}
