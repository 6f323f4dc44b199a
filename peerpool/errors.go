package peerpool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPeersAvailable is returned by Connect and Restart when not a
	// single connection attempt succeeded.
	ErrNoPeersAvailable = errors.New("no peers available")

	// ErrNotConnected is returned when an operation is requested before
	// Connect succeeded or after every peer has been removed.
	ErrNotConnected = errors.New("peer pool not connected")

	// ErrAllPeersFailed is returned by WithPeer when no attempt could be
	// made against any peer.
	ErrAllPeersFailed = errors.New("all peers failed")
)

// AttemptsError is returned by WithPeer once its candidates or attempt budget
// are exhausted. It wraps the error of the last attempt.
type AttemptsError struct {
	// Attempts is the number of peers the operation was tried against.
	Attempts int

	// Err is the error returned by the last attempt.
	Err error
}

// Error returns a human readable description of the failure.
func (e *AttemptsError) Error() string {
	return fmt.Sprintf("peer operation failed after %d attempt(s): %v",
		e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *AttemptsError) Unwrap() error {
	return e.Err
}
