//go:build !linux

package transport

import (
	"context"
	"time"
)

// DefaultRFCOMMChannel is used when the address carries no channel.
const DefaultRFCOMMChannel uint8 = 1

// RFCOMMProvider is only implemented on linux.
type RFCOMMProvider struct {
	Channel      uint8
	WriteTimeout time.Duration
}

// Open always fails with ErrUnsupported.
func (RFCOMMProvider) Open(context.Context, string) (Handle, error) {
	return nil, ErrUnsupported
}
