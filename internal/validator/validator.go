// Package validator checks the shape of submitted events before anything is
// written on their behalf.
package validator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/telhawk-systems/eventgate/internal/models"
)

var (
	ErrMissingEventID = errors.New("missing event_id")
	ErrMissingPayload = errors.New("missing payload")
)

// ValidationError is a terminal, non-retryable validation failure.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks that the event has an id and a structured payload. Metadata
// is optional. It never mutates the event.
func Validate(event *models.Event) error {
	if event == nil || event.EventID == "" {
		return &ValidationError{Field: "event_id", Err: ErrMissingEventID}
	}
	if !isStructured(event.Payload) {
		return &ValidationError{Field: "payload", Err: ErrMissingPayload}
	}
	return nil
}

// isStructured accepts JSON objects and arrays. Absent, null and scalar
// payloads are rejected.
func isStructured(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		return true
	default:
		return false
	}
}
