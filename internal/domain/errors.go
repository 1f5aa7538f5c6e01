// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrTransport indicates the session could not be reached at all
	// (connection refused, unreachable host). Reported synchronously from
	// Dispatch; the caller decides whether to retry.
	ErrTransport = errors.New("session transport unavailable")

	// ErrTimeout indicates the session was reachable but produced no
	// terminal response within the configured budget.
	ErrTimeout = errors.New("command timed out")

	// ErrStaleResponse indicates a response or timer fired for a superseded
	// request. Always swallowed at the component boundary, never surfaced.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrLockHeld indicates another supervisor already holds the session lock.
	ErrLockHeld = errors.New("supervisor lock held by another owner")

	// ErrLockNotHolder indicates a release attempt by a party that does not
	// hold the lock.
	ErrLockNotHolder = errors.New("lock held by a different owner")

	ErrEmptyFeedback    = errors.New("feedback text cannot be empty")
	ErrInvalidOption    = errors.New("selected option is not in the offered list")
	ErrNoActiveRequest  = errors.New("no active feedback request")
	ErrRequestResolved  = errors.New("feedback request already resolved")
	ErrCommandTerminal  = errors.New("command already in terminal state")
	ErrSubscriberClosed = errors.New("subscriber is closed")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// TransportError wraps a transport-level failure with the operation that
// produced it.
type TransportError struct {
	Op  string // Operation that failed (dispatch, connect, submit)
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return ErrTransport
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
