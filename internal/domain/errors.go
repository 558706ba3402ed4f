package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id does not reference an
// existing session.
var ErrSessionNotFound = errors.New("session not found")

// ValidationError reports a malformed request field or a disallowed enum
// value. It is surfaced immediately and never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
