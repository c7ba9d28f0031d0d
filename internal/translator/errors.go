package translator

import (
	"errors"
	"fmt"
)

// ValidationError flags an inbound request that violates the Messages
// API's own invariants. Handlers render it as a 400 with an
// invalid_request_error body.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrStreamAborted reports that an upstream stream was abandoned after
// repeated malformed chunks or a tool block that never received an
// identity. The translator has already emitted a valid close sequence
// when this is returned; the caller just stops reading upstream.
var ErrStreamAborted = errors.New("upstream stream aborted")
