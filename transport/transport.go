// Package transport provides the byte-stream handles a command link writes to.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Address schemes understood by Mux.
const (
	SchemeRFCOMM = "rfcomm"
	SchemeBluez  = "bluez"
	SchemeTCP    = "tcp"
	SchemeQUIC   = "quic"
)

var (
	// ErrHandleClosed indicates a write on a closed or dead handle.
	ErrHandleClosed = errors.New("transport: handle closed")
	// ErrUnsupportedScheme indicates an address no registered provider accepts.
	ErrUnsupportedScheme = errors.New("transport: unsupported address scheme")
	// ErrUnsupported indicates a transport that does not exist on this platform.
	ErrUnsupported = errors.New("transport: not supported on this platform")
	// ErrInvalidAddress indicates an address that cannot be parsed.
	ErrInvalidAddress = errors.New("transport: invalid address")
)

// Handle is an open byte stream to one peer.
type Handle interface {
	// Write sends all of p or returns an error.
	Write(p []byte) error
	// Close releases the stream and fails a Write blocked on it. It is safe
	// to call more than once.
	Close() error
	// IsAlive reports whether the stream can still be written.
	IsAlive() bool
}

// Provider opens handles for peer addresses.
type Provider interface {
	Open(ctx context.Context, address string) (Handle, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, address string) (Handle, error)

// Open calls f.
func (f ProviderFunc) Open(ctx context.Context, address string) (Handle, error) {
	return f(ctx, address)
}

// SplitAddress splits "scheme://target". Addresses without a scheme are rejected.
func SplitAddress(address string) (string, string, error) {
	scheme, target, ok := strings.Cut(strings.TrimSpace(address), "://")
	if !ok || scheme == "" || target == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(scheme), target, nil
}

// JoinAddress builds "scheme://target".
func JoinAddress(scheme, target string) string {
	return scheme + "://" + target
}

// trimScheme drops a leading "scheme://" so providers accept both full and
// bare addresses.
func trimScheme(address, scheme string) string {
	address = strings.TrimSpace(address)
	prefix := scheme + "://"
	if len(address) >= len(prefix) && strings.EqualFold(address[:len(prefix)], prefix) {
		return address[len(prefix):]
	}
	return address
}
