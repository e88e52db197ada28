// Package link owns the single transport connection to a remote peer and
// delivers encoded commands over it in submission order.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remotectl/models"
	"remotectl/transport"
)

const (
	// DefaultConnectTimeout bounds one connect attempt.
	DefaultConnectTimeout = 15 * time.Second
	// DefaultSendQueueSize bounds commands waiting for the writer.
	DefaultSendQueueSize = 16
	// DefaultDrainTimeout bounds how long a disconnect waits for queued
	// commands before it closes the handle under a stalled write.
	DefaultDrainTimeout = 500 * time.Millisecond
)

// State is the lifecycle state of a link.
type State string

const (
	StateIdle          State = "IDLE"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateDisconnecting State = "DISCONNECTING"
	StateFailed        State = "FAILED"
)

var validTransitions = map[State][]State{
	StateIdle:          {StateConnecting},
	StateConnecting:    {StateConnected, StateFailed, StateDisconnecting},
	StateConnected:     {StateDisconnecting, StateFailed},
	StateDisconnecting: {StateIdle},
	StateFailed:        {StateIdle, StateConnecting},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes one state change.
type Transition struct {
	From      State
	To        State
	PeerID    string
	AttemptID string
	Err       error
	At        time.Time
}

// Status is a snapshot of the link.
type Status struct {
	State     State
	Peer      models.Peer
	AttemptID string
	// Err and Kind are set only in StateFailed.
	Err  error
	Kind ErrorKind
}

// Options controls a Link.
type Options struct {
	Provider       transport.Provider
	ConnectTimeout time.Duration
	SendQueueSize  int
	DrainTimeout   time.Duration
	// OnStateChange receives every transition in order, from a goroutine owned
	// by the link. It may call back into the link.
	OnStateChange func(Transition)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	return o
}

// Link manages one connection at a time. All methods are safe for concurrent
// use and none of them blocks on the transport.
type Link struct {
	provider      transport.Provider
	timeout       time.Duration
	queueSize     int
	drainTimeout  time.Duration
	onStateChange func(Transition)

	mu         sync.Mutex
	state      State
	peer       models.Peer
	attemptID  string
	generation uint64
	lastErr    error
	cancel     context.CancelFunc
	handle     transport.Handle
	writer     *writer
	closed     bool

	pending     []Transition
	dispatching bool
	// idle is signalled when the dispatcher drains pending.
	idle *sync.Cond

	wg sync.WaitGroup
}

// New returns an idle link.
func New(options Options) (*Link, error) {
	if options.Provider == nil {
		return nil, errors.New("link: transport provider is required")
	}
	opts := options.withDefaults()

	l := &Link{
		provider:      opts.Provider,
		timeout:       opts.ConnectTimeout,
		queueSize:     opts.SendQueueSize,
		drainTimeout:  opts.DrainTimeout,
		onStateChange: opts.OnStateChange,
		state:         StateIdle,
	}
	l.idle = sync.NewCond(&l.mu)
	return l, nil
}

// Connect starts a connect attempt to peer and returns without waiting for it.
func (l *Link) Connect(peer models.Peer) error {
	if strings.TrimSpace(peer.ID) == "" || strings.TrimSpace(peer.Address) == "" {
		return ErrInvalidPeer
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	switch l.state {
	case StateConnecting, StateDisconnecting:
		return ErrBusy
	case StateConnected:
		return ErrInvalidState
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	l.generation++
	l.cancel = cancel
	l.peer = peer
	l.attemptID = uuid.NewString()
	l.lastErr = nil
	l.setStateLocked(StateConnecting, nil)

	log.Printf("link: connecting peer=%s address=%s attempt=%s", peer.ID, peer.Address, l.attemptID)

	l.wg.Add(1)
	go l.attempt(ctx, cancel, l.generation, peer)
	return nil
}

// Submit queues cmd for the writer and returns a channel that receives the
// write result. It fails with ErrInvalidState unless the link is connected and
// with ErrBusy when the queue is full.
func (l *Link) Submit(cmd Command) (<-chan error, error) {
	payload, err := Encode(cmd)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateConnected || l.writer == nil {
		return nil, ErrInvalidState
	}
	return l.writer.enqueue(payload)
}

// Send submits cmd and waits for its write to finish or ctx to end.
func (l *Link) Send(ctx context.Context, cmd Command) error {
	result, err := l.Submit(cmd)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect cancels a pending attempt or closes the open handle. It is a
// no-op in StateIdle and StateDisconnecting.
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateFailed:
		l.lastErr = nil
		l.setStateLocked(StateIdle, nil)
	case StateConnecting:
		l.setStateLocked(StateDisconnecting, nil)
		if l.cancel != nil {
			l.cancel()
		}
		log.Printf("link: cancelling connect peer=%s attempt=%s", l.peer.ID, l.attemptID)
	case StateConnected:
		handle, w := l.handle, l.writer
		l.handle, l.writer = nil, nil
		l.setStateLocked(StateDisconnecting, nil)
		log.Printf("link: disconnecting peer=%s attempt=%s", l.peer.ID, l.attemptID)

		l.wg.Add(1)
		go l.release(l.generation, handle, w)
	}
}

// Status returns the current snapshot.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := Status{
		State:     l.state,
		Peer:      l.peer,
		AttemptID: l.attemptID,
	}
	if l.state == StateFailed {
		status.Err = l.lastErr
		status.Kind = KindOf(l.lastErr)
	}
	return status
}

// State returns the current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close disconnects, rejects further connects and waits for background work.
func (l *Link) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.Disconnect()
	l.wg.Wait()

	l.mu.Lock()
	for l.dispatching {
		l.idle.Wait()
	}
	l.mu.Unlock()
}

func (l *Link) attempt(ctx context.Context, cancel context.CancelFunc, gen uint64, peer models.Peer) {
	defer l.wg.Done()
	defer cancel()

	handle, err := l.provider.Open(ctx, peer.Address)

	l.mu.Lock()
	if gen != l.generation || l.state != StateConnecting {
		l.mu.Unlock()
		l.abandon(gen, handle)
		return
	}

	if err == nil && handle == nil {
		err = transport.ErrHandleClosed
	}
	if err != nil {
		l.lastErr = &TransportError{Op: "open", Address: peer.Address, Err: err}
		l.setStateLocked(StateFailed, l.lastErr)
		attemptID := l.attemptID
		l.mu.Unlock()
		log.Printf("link: connect failed peer=%s attempt=%s err=%v", peer.ID, attemptID, err)
		return
	}

	l.handle = handle
	l.writer = newWriter(handle, peer.Address, l.queueSize, func(werr error) {
		l.writeFailed(gen, werr)
	})
	l.wg.Add(1)
	go func(w *writer) {
		defer l.wg.Done()
		w.run()
	}(l.writer)
	l.setStateLocked(StateConnected, nil)
	attemptID := l.attemptID
	l.mu.Unlock()

	log.Printf("link: connected peer=%s attempt=%s", peer.ID, attemptID)
}

// abandon releases whatever an attempt produced after Disconnect won the race,
// then completes the DISCONNECTING -> IDLE step.
func (l *Link) abandon(gen uint64, handle transport.Handle) {
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Printf("link: close abandoned handle failed err=%v", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.generation && l.state == StateDisconnecting {
		l.setStateLocked(StateIdle, nil)
	}
}

func (l *Link) release(gen uint64, handle transport.Handle, w *writer) {
	defer l.wg.Done()

	if w != nil && !w.drain(l.drainTimeout) {
		log.Printf("link: writer busy after %s, closing handle address=%s", l.drainTimeout, w.address)
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Printf("link: close handle failed err=%v", err)
		}
	}
	if w != nil {
		<-w.done
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.generation && l.state == StateDisconnecting {
		l.setStateLocked(StateIdle, nil)
		log.Printf("link: disconnected peer=%s attempt=%s", l.peer.ID, l.attemptID)
	}
}

// writeFailed runs on the writer goroutine after a write error.
func (l *Link) writeFailed(gen uint64, err error) {
	l.mu.Lock()
	if gen != l.generation || l.state != StateConnected {
		l.mu.Unlock()
		return
	}

	handle := l.handle
	l.handle, l.writer = nil, nil
	l.lastErr = err
	l.setStateLocked(StateFailed, err)
	peerID, attemptID := l.peer.ID, l.attemptID
	l.mu.Unlock()

	log.Printf("link: write failed peer=%s attempt=%s err=%v", peerID, attemptID, err)
	if handle != nil {
		_ = handle.Close()
	}
}

// setStateLocked applies a legal transition and queues its notification.
// Notifications are delivered in order by a single dispatcher goroutine so
// the callback never runs under l.mu.
func (l *Link) setStateLocked(to State, err error) {
	from := l.state
	if !CanTransition(from, to) {
		log.Printf("link: rejected transition from=%s to=%s", from, to)
		return
	}
	l.state = to

	if l.onStateChange == nil {
		return
	}
	l.pending = append(l.pending, Transition{
		From:      from,
		To:        to,
		PeerID:    l.peer.ID,
		AttemptID: l.attemptID,
		Err:       err,
		At:        time.Now(),
	})
	if !l.dispatching {
		l.dispatching = true
		go l.dispatch()
	}
}

// dispatch is not counted in wg; Close waits on idle for it.
func (l *Link) dispatch() {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.dispatching = false
			l.idle.Broadcast()
			l.mu.Unlock()
			return
		}
		next := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		l.onStateChange(next)
	}
}

type writeRequest struct {
	payload []byte
	result  chan error
}

// writer is the only goroutine that touches a connected handle.
type writer struct {
	handle    transport.Handle
	address   string
	queue     chan writeRequest
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	onFailure func(error)
}

func newWriter(handle transport.Handle, address string, size int, onFailure func(error)) *writer {
	return &writer{
		handle:    handle,
		address:   address,
		queue:     make(chan writeRequest, size),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		onFailure: onFailure,
	}
}

func (w *writer) enqueue(payload []byte) (<-chan error, error) {
	req := writeRequest{payload: payload, result: make(chan error, 1)}
	select {
	case w.queue <- req:
		return req.result, nil
	default:
		return nil, ErrBusy
	}
}

func (w *writer) run() {
	defer close(w.done)

	for {
		select {
		case req := <-w.queue:
			if err := w.write(req.payload); err != nil {
				req.result <- err
				w.onFailure(err)
				w.failQueued(err)
				return
			}
			req.result <- nil
		case <-w.quit:
			w.flush()
			return
		}
	}
}

// flush writes what was queued before stop so a disconnect does not drop
// commands the user already triggered.
func (w *writer) flush() {
	for {
		select {
		case req := <-w.queue:
			if err := w.write(req.payload); err != nil {
				req.result <- err
				w.failQueued(err)
				return
			}
			req.result <- nil
		default:
			return
		}
	}
}

func (w *writer) failQueued(err error) {
	for {
		select {
		case req := <-w.queue:
			req.result <- err
		default:
			return
		}
	}
}

func (w *writer) write(payload []byte) error {
	if !w.handle.IsAlive() {
		return &TransportError{Op: "write", Address: w.address, Err: transport.ErrHandleClosed}
	}
	if err := w.handle.Write(payload); err != nil {
		return &TransportError{Op: "write", Address: w.address, Err: fmt.Errorf("command write: %w", err)}
	}
	return nil
}

// drain asks the writer to flush and exit, and reports whether it did so
// within timeout.
func (w *writer) drain(timeout time.Duration) bool {
	w.stopOnce.Do(func() { close(w.quit) })

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
