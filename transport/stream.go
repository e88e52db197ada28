package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds one command write on streams that support deadlines.
const DefaultWriteTimeout = 5 * time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamHandle adapts an io.WriteCloser (socket, file descriptor, QUIC stream)
// to Handle. The first failed write marks the handle dead.
type StreamHandle struct {
	w            io.WriteCloser
	writeTimeout time.Duration
	release      func() error

	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStreamHandle wraps w. A zero writeTimeout disables write deadlines.
func NewStreamHandle(w io.WriteCloser, writeTimeout time.Duration) *StreamHandle {
	h := &StreamHandle{w: w, writeTimeout: writeTimeout}
	h.alive.Store(true)
	return h
}

// OnClose registers cleanup that runs after the stream itself is closed.
func (h *StreamHandle) OnClose(release func() error) *StreamHandle {
	h.release = release
	return h
}

// Write sends p in one call.
func (h *StreamHandle) Write(p []byte) error {
	if !h.IsAlive() {
		return ErrHandleClosed
	}

	if d, ok := h.w.(writeDeadliner); ok && h.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err == nil {
			defer d.SetWriteDeadline(time.Time{})
		} else if !errors.Is(err, os.ErrNoDeadline) {
			h.alive.Store(false)
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	n, err := h.w.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		h.alive.Store(false)
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}

// Close closes the stream once and reports the first close error.
func (h *StreamHandle) Close() error {
	h.closeOnce.Do(func() {
		h.alive.Store(false)
		h.closeErr = h.w.Close()
		if h.release != nil {
			if err := h.release(); err != nil && h.closeErr == nil {
				h.closeErr = err
			}
		}
	})
	return h.closeErr
}

// IsAlive reports whether the handle is open and no write has failed.
func (h *StreamHandle) IsAlive() bool {
	return h.alive.Load()
}
