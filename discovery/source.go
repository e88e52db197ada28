// Package discovery finds receivers over mDNS, BlueZ and BLE and reports them
// as models.Peer events.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"remotectl/models"
)

const (
	// EventPeerFound is emitted when a peer appears or its metadata changes.
	EventPeerFound EventType = "peer_found"
	// EventPeerLost is emitted when a previously seen peer disappears.
	EventPeerLost EventType = "peer_lost"
)

var (
	// ErrNotStarted indicates Refresh on a source that was never started.
	ErrNotStarted = errors.New("discovery: source is not started")
	// ErrStopped indicates Refresh on a stopped source.
	ErrStopped = errors.New("discovery: source is stopped")
	// ErrNoSources indicates that no source could be started.
	ErrNoSources = errors.New("discovery: no source started")
)

// EventType identifies peer discovery updates.
type EventType string

// Event carries one discovery update.
type Event struct {
	Type EventType
	Peer models.Peer
}

// Source is one discovery mechanism. Events is closed by Stop.
type Source interface {
	Name() string
	Start() error
	Refresh(ctx context.Context) error
	Events() <-chan Event
	Stop()
}

// Manager fans the events of several sources into one handler.
type Manager struct {
	handler func(Event)
	sources []Source

	mu      sync.Mutex
	started []Source
	wg      sync.WaitGroup
}

// NewManager returns a manager delivering every event to handler. The
// handler runs on one goroutine per source.
func NewManager(handler func(Event), sources ...Source) *Manager {
	return &Manager{handler: handler, sources: sources}
}

// Start starts every source. A source that fails to start is logged and
// skipped; Start fails only when none could start.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, src := range m.sources {
		if err := src.Start(); err != nil {
			log.Printf("discovery: source unavailable source=%s err=%v", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		m.started = append(m.started, src)

		m.wg.Add(1)
		go m.forward(src)
	}

	if len(m.sources) > 0 && len(m.started) == 0 {
		return fmt.Errorf("%w: %w", ErrNoSources, errors.Join(errs...))
	}
	return nil
}

// Refresh refreshes every started source concurrently.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	sources := append([]Source(nil), m.started...)
	m.mu.Unlock()

	errs := make([]error, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			if err := src.Refresh(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
			}
		}(i, src)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Sources returns the names of the started sources.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.started))
	for _, src := range m.started {
		names = append(names, src.Name())
	}
	return names
}

// Stop stops every started source and waits for pending deliveries.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	for _, src := range started {
		src.Stop()
	}
	m.wg.Wait()
}

func (m *Manager) forward(src Source) {
	defer m.wg.Done()
	for event := range src.Events() {
		if m.handler != nil {
			m.handler(event)
		}
	}
}
