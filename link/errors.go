package link

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy indicates a connect or disconnect already in progress, or a full send queue.
	ErrBusy = errors.New("link: operation in progress")
	// ErrInvalidState indicates an operation the current state does not allow.
	ErrInvalidState = errors.New("link: invalid state for operation")
	// ErrInvalidPeer indicates a peer without an ID or address.
	ErrInvalidPeer = errors.New("link: peer id and address are required")
	// ErrClosed indicates use of a link after Close.
	ErrClosed = errors.New("link: closed")
)

// TransportError wraps a failure reported by the transport handle.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies link errors for status reporting.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindBusy         ErrorKind = "busy"
	KindTransport    ErrorKind = "transport"
	KindInvalidState ErrorKind = "invalid_state"
)

// KindOf maps any error returned by the link to its ErrorKind.
func KindOf(err error) ErrorKind {
	var transportErr *TransportError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidPeer), errors.Is(err, ErrClosed):
		return KindInvalidState
	default:
		return KindTransport
	}
}
