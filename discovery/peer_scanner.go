package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"remotectl/models"
	"remotectl/transport"
)

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// PeerScanner discovers receivers with periodic and manual mDNS browses.
// Receivers that advertise a QUIC port and key fingerprint get a pinned QUIC
// address; the rest are reached over TCP.
type PeerScanner struct {
	cfg MDNSConfig

	browse browseFunc

	mu    sync.RWMutex
	peers map[string]models.Peer

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewPeerScanner creates a scanner with config defaults applied.
func NewPeerScanner(config MDNSConfig) (*PeerScanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &PeerScanner{
		cfg:             cfg,
		browse:          browse,
		peers:           make(map[string]models.Peer),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Name identifies the source in logs.
func (s *PeerScanner) Name() string { return models.SourceMDNS }

// Start begins background scanning.
func (s *PeerScanner) Start() error {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Stop stops background scanning and closes Events.
func (s *PeerScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous discovery updates.
func (s *PeerScanner) Events() <-chan Event {
	return s.events
}

// Refresh triggers an immediate scan and waits for it.
func (s *PeerScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return ErrNotStarted
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// ListPeers returns the latest snapshot sorted by name.
func (s *PeerScanner) ListPeers() []models.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.peers))
	slices.SortFunc(out, func(a, b models.Peer) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *PeerScanner) loop() {
	defer s.wg.Done()

	_ = s.runScan(context.Background())

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.runScan(context.Background())
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// runScan browses for one ScanTimeout window and applies what it saw.
// requestCtx may end the window early.
func (s *PeerScanner) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()
	if requestCtx != nil {
		stop := context.AfterFunc(requestCtx, cancel)
		defer stop()
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	snapshot := make(chan map[string]models.Peer, 1)
	go func() {
		found := make(map[string]models.Peer)
		for {
			select {
			case <-scanCtx.Done():
				snapshot <- found
				return
			case entry := <-entries:
				if peer, ok := peerFromEntry(entry, s.cfg.SelfID); ok {
					found[peer.ID] = peer
				}
			}
		}
	}()

	if err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries); err != nil && !scanWindowEnded(err) {
		cancel()
		<-snapshot
		return fmt.Errorf("browse %s: %w", s.cfg.Service, err)
	}

	<-scanCtx.Done()
	s.applySnapshot(<-snapshot, time.Now().UnixMilli())
	return nil
}

// scanWindowEnded reports errors that only mean the browse window closed.
func scanWindowEnded(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *PeerScanner) applySnapshot(next map[string]models.Peer, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.peers
	for id, peer := range next {
		old, exists := previous[id]
		if exists {
			peer.DiscoveredAt = old.DiscoveredAt
		} else {
			peer.DiscoveredAt = now
		}
		next[id] = peer
		if !exists || old.Name != peer.Name || old.Address != peer.Address {
			s.emitEvent(Event{Type: EventPeerFound, Peer: peer})
		}
	}

	for id, peer := range previous {
		if _, exists := next[id]; !exists {
			s.emitEvent(Event{Type: EventPeerLost, Peer: peer})
		}
	}
	s.peers = next
}

func (s *PeerScanner) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func peerFromEntry(entry *zeroconf.ServiceEntry, selfID string) (models.Peer, bool) {
	if entry == nil {
		return models.Peer{}, false
	}
	txt := txtToMap(entry.Text)

	id := txt[txtID]
	if id == "" || id == selfID {
		return models.Peer{}, false
	}

	host := entryHost(entry)
	if host == "" {
		return models.Peer{}, false
	}

	var address string
	quicPort, _ := strconv.Atoi(txt[txtQUICPort])
	fingerprint := strings.ToLower(txt[txtFingerprint])
	switch {
	case quicPort > 0 && fingerprint != "":
		address = transport.QUICAddress(net.JoinHostPort(host, strconv.Itoa(quicPort)), fingerprint)
	case entry.Port > 0:
		address = transport.JoinAddress(transport.SchemeTCP, net.JoinHostPort(host, strconv.Itoa(entry.Port)))
	default:
		return models.Peer{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
	}
	if name == "" {
		name = id
	}

	return models.Peer{
		ID:      id,
		Name:    name,
		Address: address,
		Source:  models.SourceMDNS,
	}, true
}

// entryHost prefers the lowest IPv4 address, then IPv6, then the host name.
func entryHost(entry *zeroconf.ServiceEntry) string {
	for _, family := range [][]net.IP{entry.AddrIPv4, entry.AddrIPv6} {
		addresses := make([]string, 0, len(family))
		for _, ip := range family {
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			addresses = append(addresses, ip.String())
		}
		if len(addresses) > 0 {
			slices.Sort(addresses)
			return addresses[0]
		}
	}
	return strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
