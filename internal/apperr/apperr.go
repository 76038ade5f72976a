package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport adapters.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindTranscriptionFailed
	KindStorage
	KindCancelled
)

// String returns the machine-readable code of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTranscriptionFailed:
		return "TRANSCRIPTION_FAILED"
	case KindStorage:
		return "STORAGE_ERROR"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the recommended HTTP status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTranscriptionFailed:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type crossing the core boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so sentinel-style checks like
// errors.Is(err, apperr.NotFound("", "")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation creates a validation error. Validation errors are raised before
// any state mutation.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedLanguage creates the validation error for a language code that is
// not in the configured table.
func UnsupportedLanguage(code string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("Unsupported language code: %s", code)}
}

// NotFound creates an error for a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// TranscriptionFailed wraps a collaborator failure.
func TranscriptionFailed(cause error) *Error {
	return &Error{Kind: KindTranscriptionFailed, Message: "transcription failed", Cause: cause}
}

// Storage wraps a store failure.
func Storage(op string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: op, Cause: cause}
}

// Cancelled wraps a context error.
func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Cause: cause}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf reports the kind of err. Context errors that were not wrapped are
// reported as KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// FromContext converts a done context into a Cancelled error, or returns nil.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(err)
	}
	return nil
}
