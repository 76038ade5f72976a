package publish

import (
	"context"
	"time"
)

// Event describes one appended chunk result.
type Event struct {
	SessionID    string    `json:"session_id"`
	LanguageCode string    `json:"language_code"`
	ChunkNumber  int       `json:"chunk_number"`
	ResultID     int64     `json:"result_id"`
	Text         string    `json:"transcription_text"`
	Confidence   *float64  `json:"confidence_score,omitempty"`
	Failed       bool      `json:"failed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher delivers result events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
