package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"remotectl/link"
	"remotectl/models"
	"remotectl/storage"
	"remotectl/transport"
)

type fakeHandle struct {
	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func (h *fakeHandle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrHandleClosed
	}
	h.written.Write(p)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *fakeHandle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.written.Bytes()...)
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeProvider struct {
	mu      sync.Mutex
	opens   int
	openErr error
	gate    chan struct{}
	handles []*fakeHandle
}

func (p *fakeProvider) Open(ctx context.Context, address string) (transport.Handle, error) {
	p.mu.Lock()
	p.opens++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	h := &fakeHandle{}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) setOpenErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

func (p *fakeProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakeProvider) Handles() []*fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeHandle(nil), p.handles...)
}

var peerP1 = models.Peer{ID: "P1", Name: "Presenter", Address: "rfcomm://AA:BB:CC:DD:EE:01", Source: models.SourceBonded}

func newTestController(t *testing.T, provider transport.Provider, mutate func(*Options)) *Controller {
	t.Helper()

	options := Options{
		Link:           link.Options{Provider: provider, ConnectTimeout: 2 * time.Second},
		ToggleDebounce: -1,
	}
	if mutate != nil {
		mutate(&options)
	}
	c, err := New(options)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})
	return store
}

func waitForState(t *testing.T, c *Controller, expected link.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status().State == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", expected, c.Status().State)
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}
