package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackendUnavailable rejects sends attempted while no worker is
	// connected. Callers fail fast rather than queueing.
	ErrBackendUnavailable = errors.New("backend not available")

	// ErrBackendExited rejects every pending request when the worker dies
	// with requests in flight. Connectivity, not a host fatal.
	ErrBackendExited = errors.New("backend exited with requests pending")

	// ErrCommandTimeout rejects a request with no response inside its policy
	// window. Recoverable; the caller may retry.
	ErrCommandTimeout = errors.New("command timed out")
)

// TimeoutError carries the policy details of a timed-out request.
type TimeoutError struct {
	RequestID string
	Kind      Kind
	After     time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s command %s timed out after %s", e.Kind, e.RequestID, e.After)
}

// Unwrap makes the error match ErrCommandTimeout.
func (e *TimeoutError) Unwrap() error { return ErrCommandTimeout }
