package link

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remotectl/models"
	"remotectl/transport"
)

type fakeHandle struct {
	mu        sync.Mutex
	written   bytes.Buffer
	closed    bool
	writeErr  error
	closeHits int
}

func (h *fakeHandle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrHandleClosed
	}
	if h.writeErr != nil {
		return h.writeErr
	}
	h.written.Write(p)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.closeHits++
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

// gatedHandle holds every Write until release is closed or the handle is
// closed, whichever comes first.
type gatedHandle struct {
	fakeHandle
	release   chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
	entered   atomic.Int32
}

func newGatedHandle() *gatedHandle {
	return &gatedHandle{release: make(chan struct{}), closedCh: make(chan struct{})}
}

func (h *gatedHandle) Write(p []byte) error {
	h.entered.Add(1)
	select {
	case <-h.release:
		return h.fakeHandle.Write(p)
	case <-h.closedCh:
		return transport.ErrHandleClosed
	}
}

func (h *gatedHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closedCh) })
	return h.fakeHandle.Close()
}

// fakeProvider hands out fakeHandles. When gate is set, Open waits for it;
// with ignoreCancel the wait also outlives the attempt context.
type fakeProvider struct {
	mu           sync.Mutex
	opens        int
	handles      []*fakeHandle
	openErr      error
	writeErr     error
	gate         chan struct{}
	ignoreCancel bool
}

func (p *fakeProvider) Open(ctx context.Context, address string) (transport.Handle, error) {
	p.mu.Lock()
	p.opens++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		if p.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	h := &fakeHandle{writeErr: p.writeErr}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakeProvider) Handle(i int) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.handles) {
		return nil
	}
	return p.handles[i]
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) record(tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
}

func (r *transitionRecorder) snapshot() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

var testPeer = models.Peer{ID: "P1", Name: "Presenter", Address: "tcp://127.0.0.1:9"}

func newTestLink(t *testing.T, provider transport.Provider, recorder *transitionRecorder) *Link {
	t.Helper()

	options := Options{Provider: provider, ConnectTimeout: 2 * time.Second, SendQueueSize: 64}
	if recorder != nil {
		options.OnStateChange = recorder.record
	}
	l, err := New(options)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

// newGatedLink returns a connected link whose only handle is h.
func newGatedLink(t *testing.T, h *gatedHandle, queueSize int, drain time.Duration) *Link {
	t.Helper()

	provider := transport.ProviderFunc(func(context.Context, string) (transport.Handle, error) {
		return h, nil
	})
	l, err := New(Options{Provider: provider, SendQueueSize: queueSize, DrainTimeout: drain})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(l.Close)

	if err := l.Connect(testPeer); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, l, StateConnected, 2*time.Second)
	return l
}

func submit(t *testing.T, l *Link, cmd Command) <-chan error {
	t.Helper()
	result, err := l.Submit(cmd)
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", cmd, err)
	}
	return result
}

func receive(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for write result")
		return nil
	}
}

func waitForState(t *testing.T, l *Link, expected State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l.State() == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", expected, l.State())
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
