package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned synchronously when a call is attempted while the connection
	// is not open. It is never retried.
	ErrNotConnected = errors.New("rpcbridge: not connected")
	// ErrAlreadyConnecting is returned by Connect unless the connection is idle.
	ErrAlreadyConnecting = errors.New("rpcbridge: already connecting")
	// ErrConnectionClosed is delivered to every pending call when the connection goes away.
	ErrConnectionClosed = errors.New("rpcbridge: connection closed")
	// ErrNoChunkHandler is returned by Stream when the chunk handler is nil.
	ErrNoChunkHandler = errors.New("rpcbridge: stream requires a chunk handler")
)

// RemoteError is an explicit error the bridge returned for one call.
type RemoteError struct {
	ID      string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("remote error: %s", e.Message)
	}
	return fmt.Sprintf("remote error: %s: %s", e.Method, e.Message)
}

// closedError wraps the cause of a connection loss so that errors.Is matches both
// ErrConnectionClosed and the underlying transport error.
type closedError struct {
	cause error
}

func (e *closedError) Error() string {
	if e.cause == nil {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionClosed, e.cause)
}

func (e *closedError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrConnectionClosed}
	}
	return []error{ErrConnectionClosed, e.cause}
}

func connectionClosed(cause error) error {
	return &closedError{cause: cause}
}
