package transcription

import "context"

// Transcript is the output of one engine call.
type Transcript struct {
	Text       string
	Confidence *float64
}

// Engine converts float32 samples into text. Implementations must be safe
// for concurrent use and report failures as errors. An engine that stops
// because ctx is done returns an error wrapping ctx.Err().
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, languageCode string) (*Transcript, error)
	Ready(ctx context.Context) bool
	Name() string
}
