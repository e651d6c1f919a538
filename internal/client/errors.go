package client

import (
	"errors"
	"fmt"
)

// ErrNotConnected is wrapped in a *TransportError when a frame is sent
// without a live transport.
var ErrNotConnected = errors.New("not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("manager closed")

// TransportError is a dial, handshake, read or write failure. It is
// transient: the manager retries it on its own.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReconnectExhausted is reported once the retry budget is spent. The
// manager stays failed until the next explicit Connect.
type ReconnectExhausted struct {
	Attempts int
	Last     error
}

func (e *ReconnectExhausted) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("reconnect failed after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("reconnect failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ReconnectExhausted) Unwrap() error { return e.Last }
