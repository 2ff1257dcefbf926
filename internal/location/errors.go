package location

import "errors"

var (
	// ErrCapabilityUnavailable means the platform has no positioning support.
	ErrCapabilityUnavailable = errors.New("positioning capability unavailable")

	// ErrFixTimeout means no fix arrived within the configured wait.
	ErrFixTimeout = errors.New("position fix timed out")

	// ErrFixFailed covers every other positioning failure.
	ErrFixFailed = errors.New("position fix failed")
)
