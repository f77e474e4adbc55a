package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the transport.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNoResponse is recorded when a Sender returns neither a response nor
	// an error. The attempt counts as a network failure.
	ErrNoResponse = errors.New("sender returned no response")
)

// ErrorClass represents a classification of failed attempts.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents any other non-200 status.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// TransportError reports a logical request that never got a 200 response.
type TransportError struct {
	URL        string
	StatusCode int // 0 when the last attempt failed before a response arrived
	Attempts   int
	LastWait   time.Duration
	TotalWait  time.Duration
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("request to %s failed after %d attempts (last status %d, last wait %s, class %s)",
		e.URL, e.Attempts, e.StatusCode, e.LastWait, e.Class)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryExhausted so callers can match without errors.As.
func (e *TransportError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// StatusError describes a single attempt that returned a non-200 status.
type StatusError struct {
	StatusCode int
	Class      ErrorClass
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d %s)", e.Class, e.StatusCode, http.StatusText(e.StatusCode))
}

// classifyStatus categorizes a non-200 response for observability.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
