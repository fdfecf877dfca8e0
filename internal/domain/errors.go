package domain

import (
	"errors"
	"fmt"
)

// Input errors: bad or missing source artifacts and malformed model output.
// These surface as job failures and are never retried automatically.
var (
	ErrMissingSource   = errors.New("source artifact missing")
	ErrEmptySource     = errors.New("source artifact is empty")
	ErrMalformedOutput = errors.New("model output is malformed")
)

// BackendError wraps a failure from an external backend (generation, TTS,
// rendering). The backend client retries before producing one of these.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err as a BackendError for the named backend.
func NewBackendError(backend string, err error) error {
	return &BackendError{Backend: backend, Err: err}
}

// IsInputError reports whether err belongs to the input-error class.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMissingSource) ||
		errors.Is(err, ErrEmptySource) ||
		errors.Is(err, ErrMalformedOutput)
}
