package discovery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"remotectl/models"
	"remotectl/transport"
)

// DefaultBLEScanWindow bounds one advertisement scan.
const DefaultBLEScanWindow = 8 * time.Second

type bleAdapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLEConfig controls the BLE advertisement scanner.
type BLEConfig struct {
	// NamePrefixes keeps advertisements whose local name starts with one of
	// them. Empty keeps every named advertisement.
	NamePrefixes []string
	// AddressScheme selects the transport used to reach a matched device.
	AddressScheme string
	Adapter       string
	ScanWindow    time.Duration

	adapter bleAdapter
}

func (c BLEConfig) withDefaults() BLEConfig {
	out := c
	if out.AddressScheme != transport.SchemeRFCOMM {
		out.AddressScheme = transport.SchemeBluez
	}
	if out.Adapter == "" {
		out.Adapter = transport.DefaultBluezAdapter
	}
	if out.ScanWindow <= 0 {
		out.ScanWindow = DefaultBLEScanWindow
	}
	if out.adapter == nil {
		out.adapter = bluetooth.DefaultAdapter
	}
	return out
}

// BLEScanner reports named BLE advertisers. It scans only on Refresh.
type BLEScanner struct {
	cfg BLEConfig

	seen   *deviceSet
	events chan Event

	mu       sync.Mutex
	started  bool
	stopped  bool
	scanning atomic.Bool
	pending  sync.WaitGroup
}

// NewBLEScanner creates a scanner with config defaults applied.
func NewBLEScanner(config BLEConfig) *BLEScanner {
	return &BLEScanner{
		cfg:    config.withDefaults(),
		seen:   newDeviceSet(),
		events: make(chan Event, 128),
	}
}

// Name identifies the source in logs.
func (s *BLEScanner) Name() string { return models.SourceBLE }

// Events provides asynchronous discovery updates.
func (s *BLEScanner) Events() <-chan Event { return s.events }

// Start enables the adapter.
func (s *BLEScanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.cfg.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	s.started = true
	return nil
}

// Refresh scans for one window or until ctx ends.
func (s *BLEScanner) Refresh(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	}
	if !s.scanning.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrRefreshInProgress
	}
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()
	defer s.scanning.Store(false)

	log.Printf("discovery: ble scan started prefixes=%v window=%s", s.cfg.NamePrefixes, s.cfg.ScanWindow)

	scanDone := make(chan error, 1)
	go func() {
		scanDone <- s.cfg.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			s.observe(result.LocalName(), result.Address.String(), int(result.RSSI))
		})
	}()

	window := time.NewTimer(s.cfg.ScanWindow)
	defer window.Stop()

	var waitErr error
	select {
	case err := <-scanDone:
		if err != nil {
			return fmt.Errorf("ble scan: %w", err)
		}
		return nil
	case <-window.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := s.cfg.adapter.StopScan(); err != nil {
		log.Printf("discovery: stop ble scan failed err=%v", err)
	}
	if err := <-scanDone; err != nil && waitErr == nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	log.Printf("discovery: ble scan finished")
	return waitErr
}

// Stop waits for a running scan and closes Events.
func (s *BLEScanner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.scanning.Load() {
		_ = s.cfg.adapter.StopScan()
	}
	s.pending.Wait()
	close(s.events)
}

func (s *BLEScanner) observe(name, address string, rssi int) {
	peer, ok := peerFromAdvertisement(name, address, s.cfg.NamePrefixes, s.cfg.Adapter, s.cfg.AddressScheme)
	if !ok || !s.seen.admit(peer) {
		return
	}
	peer.DiscoveredAt = time.Now().UnixMilli()
	log.Printf("discovery: ble device peer=%s name=%q rssi=%d", peer.ID, peer.Name, rssi)
	select {
	case s.events <- Event{Type: EventPeerFound, Peer: peer}:
	default:
	}
}

func matchesPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// peerFromAdvertisement skips unnamed advertisers and names outside prefixes.
func peerFromAdvertisement(name, address string, prefixes []string, adapter, scheme string) (models.Peer, bool) {
	name = strings.TrimSpace(name)
	if name == "" || !matchesPrefix(name, prefixes) {
		return models.Peer{}, false
	}
	mac, err := transport.ParseMAC(address)
	if err != nil {
		return models.Peer{}, false
	}
	id := transport.FormatMAC(mac)

	return models.Peer{
		ID:      id,
		Name:    name,
		Address: bluetoothAddress(adapter, scheme, id),
		Source:  models.SourceBLE,
	}, true
}
