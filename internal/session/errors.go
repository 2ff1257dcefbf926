package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrNoDiscovery       = errors.New("no service selected")
	ErrUnknownProvider   = errors.New("provider is not in the current results")
	ErrActionUnavailable = errors.New("action is not offered for this service")
	ErrNoOffer           = errors.New("no job offer pending")
	ErrStopped           = errors.New("session loop stopped")
)

// RuntimeError is a recoverable failure absorbed by the orchestrator. It
// is surfaced as state in the snapshot, never returned as a fault.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCapabilityUnavailable means the platform cannot position at all.
	ErrCodeCapabilityUnavailable RuntimeErrorCode = "CAPABILITY_UNAVAILABLE"

	// ErrCodeFixTimeout means no fix arrived within the watch timeout.
	ErrCodeFixTimeout RuntimeErrorCode = "FIX_TIMEOUT"

	// ErrCodeFixError is any other positioning failure.
	ErrCodeFixError RuntimeErrorCode = "FIX_ERROR"

	// ErrCodeDirectoryQueryFailed means a directory query failed or
	// returned malformed data.
	ErrCodeDirectoryQueryFailed RuntimeErrorCode = "DIRECTORY_QUERY_FAILED"

	// ErrCodeStaleResponseDiscarded marks a response for a replaced or
	// closed request. It is logged and counted, not surfaced.
	ErrCodeStaleResponseDiscarded RuntimeErrorCode = "STALE_RESPONSE_DISCARDED"

	// ErrCodeJobSourceUnavailable means a partner could not subscribe to
	// job offers.
	ErrCodeJobSourceUnavailable RuntimeErrorCode = "JOB_SOURCE_UNAVAILABLE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a RuntimeError with code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newRuntimeError(code RuntimeErrorCode, err error, details map[string]string) *RuntimeError {
	return &RuntimeError{Code: code, Message: err.Error(), Details: details}
}
