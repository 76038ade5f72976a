package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/aarutech20/indicVoice/internal/audio"
)

// Message types
const (
	TypeStartSession = "start_session"
	TypeAudioChunk   = "audio_chunk"
	TypeEndSession   = "end_session"

	TypeConnectionEstablished = "connection_established"
	TypeSessionStarted        = "session_started"
	TypeTranscriptionResult   = "transcription_result"
	TypeSessionEnded          = "session_ended"
	TypeError                 = "error"
)

// Defaults applied to fields a client omits.
const (
	DefaultLanguageCode = "hi"
	DefaultSampleRate   = 16000
)

// ParseError rejects an inbound frame. Its text is sent back to the client
// verbatim in an error message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidJSON = &ParseError{Reason: "Invalid JSON format"}
	ErrMissingType = &ParseError{Reason: "Message type is required"}
)

// Inbound is a parsed client message: *StartSession, *AudioChunk or *EndSession.
type Inbound interface {
	MessageType() string
}

// StartSession opens (or re-opens) the connection's session.
type StartSession struct {
	LanguageCode string
}

// AudioChunk carries one chunk of little-endian float32 samples.
type AudioChunk struct {
	Audio        []byte
	LanguageCode string
	ChunkNumber  int
	SampleRate   int
}

// EndSession ends the connection's session.
type EndSession struct{}

func (*StartSession) MessageType() string { return TypeStartSession }
func (*AudioChunk) MessageType() string   { return TypeAudioChunk }
func (*EndSession) MessageType() string   { return TypeEndSession }

// envelope is the wire form of every inbound message.
type envelope struct {
	Type         string `json:"type"`
	LanguageCode string `json:"language_code"`
	AudioData    string `json:"audio_data"`
	ChunkNumber  *int   `json:"chunk_number"`
	SampleRate   *int   `json:"sample_rate"`
}

// ParseInbound decodes one text frame. The returned error text is suitable
// for an error reply.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidJSON
	}

	language := env.LanguageCode
	if language == "" {
		language = DefaultLanguageCode
	}

	switch env.Type {
	case "":
		return nil, ErrMissingType
	case TypeStartSession:
		return &StartSession{LanguageCode: language}, nil
	case TypeEndSession:
		return &EndSession{}, nil
	case TypeAudioChunk:
		chunk, err := parseAudioChunk(env, language)
		if err != nil {
			return nil, err
		}
		return chunk, nil
	default:
		return nil, parseErrorf("Unknown message type: %s", env.Type)
	}
}

func parseAudioChunk(env envelope, language string) (*AudioChunk, error) {
	chunk := &AudioChunk{
		LanguageCode: language,
		SampleRate:   DefaultSampleRate,
	}

	if env.ChunkNumber != nil {
		if *env.ChunkNumber < 0 {
			return nil, parseErrorf("chunk_number must be non-negative, got %d", *env.ChunkNumber)
		}
		chunk.ChunkNumber = *env.ChunkNumber
	}

	if env.SampleRate != nil {
		if *env.SampleRate <= 0 {
			return nil, parseErrorf("sample_rate must be positive, got %d", *env.SampleRate)
		}
		chunk.SampleRate = *env.SampleRate
	}

	raw, err := audio.DecodeBase64(env.AudioData)
	if err != nil {
		return nil, parseErrorf("Invalid audio_data: %v", err)
	}
	chunk.Audio = raw

	return chunk, nil
}

// Outbound messages

type ConnectionEstablishedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type SessionStartedMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	LanguageCode string `json:"language_code"`
}

type TranscriptionResultMessage struct {
	Type          string   `json:"type"`
	SessionID     string   `json:"session_id"`
	ChunkNumber   int      `json:"chunk_number"`
	Transcription string   `json:"transcription"`
	LanguageCode  string   `json:"language_code"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

type SessionEndedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func ConnectionEstablished(sessionID string) *ConnectionEstablishedMessage {
	return &ConnectionEstablishedMessage{Type: TypeConnectionEstablished, SessionID: sessionID}
}

func SessionStarted(sessionID, languageCode string) *SessionStartedMessage {
	return &SessionStartedMessage{Type: TypeSessionStarted, SessionID: sessionID, LanguageCode: languageCode}
}

func TranscriptionResult(sessionID string, chunkNumber int, text, languageCode string, confidence *float64) *TranscriptionResultMessage {
	return &TranscriptionResultMessage{
		Type:          TypeTranscriptionResult,
		SessionID:     sessionID,
		ChunkNumber:   chunkNumber,
		Transcription: text,
		LanguageCode:  languageCode,
		Confidence:    confidence,
	}
}

func SessionEnded(sessionID string) *SessionEndedMessage {
	return &SessionEndedMessage{Type: TypeSessionEnded, SessionID: sessionID}
}

func Error(message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Message: message}
}
