package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned by constructors when a descriptor is
	// configured inconsistently.
	ErrConfiguration = errors.New("invalid descriptor configuration")

	// ErrMalformedResponse is matched by every MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed response")
)

// MalformedResponseError reports a response field that was expected but is
// missing or has the wrong shape.
type MalformedResponseError struct {
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("malformed response: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Is matches ErrMalformedResponse.
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

func malformed(field, reason string) error {
	return &MalformedResponseError{Field: field, Reason: reason}
}
