package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProvider opens plain TCP streams, addressed as "tcp://host:port".
type TCPProvider struct {
	WriteTimeout time.Duration
	KeepAlive    time.Duration
}

// Open dials the target and disables Nagle so each command leaves immediately.
func (p TCPProvider) Open(ctx context.Context, address string) (Handle, error) {
	target := trimScheme(address, SchemeTCP)
	if _, _, err := net.SplitHostPort(target); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}

	dialer := net.Dialer{KeepAlive: p.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", target, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return NewStreamHandle(conn, p.WriteTimeout), nil
}
