package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"

	"remotectl/models"
)

type fakeBLEAdapter struct {
	mu        sync.Mutex
	enableErr error
	enabled   bool
	scans     int
	stop      chan struct{}
}

func newFakeBLEAdapter() *fakeBLEAdapter {
	return &fakeBLEAdapter{stop: make(chan struct{}, 1)}
}

func (a *fakeBLEAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enableErr != nil {
		return a.enableErr
	}
	a.enabled = true
	return nil
}

func (a *fakeBLEAdapter) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	a.mu.Lock()
	a.scans++
	a.mu.Unlock()
	<-a.stop
	return nil
}

func (a *fakeBLEAdapter) StopScan() error {
	select {
	case a.stop <- struct{}{}:
	default:
	}
	return nil
}

func (a *fakeBLEAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func TestBLEScannerRefreshRunsOneWindow(t *testing.T) {
	adapter := newFakeBLEAdapter()
	scanner := NewBLEScanner(BLEConfig{ScanWindow: 30 * time.Millisecond, adapter: adapter})

	if err := scanner.Refresh(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := scanner.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if adapter.scanCount() != 1 {
		t.Fatalf("expected 1 scan, got %d", adapter.scanCount())
	}

	scanner.Stop()
	if err := scanner.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestBLEScannerRefreshHonorsContext(t *testing.T) {
	adapter := newFakeBLEAdapter()
	scanner := NewBLEScanner(BLEConfig{ScanWindow: time.Hour, adapter: adapter})
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := scanner.Refresh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBLEScannerStartReportsAdapterError(t *testing.T) {
	adapter := newFakeBLEAdapter()
	adapter.enableErr = errors.New("adapter missing")
	scanner := NewBLEScanner(BLEConfig{adapter: adapter})

	if err := scanner.Start(); !errors.Is(err, adapter.enableErr) {
		t.Fatalf("expected enable error, got %v", err)
	}
}

func TestBLEScannerObserveFiltersAndDeduplicates(t *testing.T) {
	scanner := NewBLEScanner(BLEConfig{NamePrefixes: []string{"Slide"}, adapter: newFakeBLEAdapter()})

	scanner.observe("", "AA:BB:CC:DD:EE:01", -40)
	scanner.observe("Headphones", "AA:BB:CC:DD:EE:02", -40)
	scanner.observe("SlideHost", "AA:BB:CC:DD:EE:03", -40)
	scanner.observe("SlideHost", "AA:BB:CC:DD:EE:03", -42)

	select {
	case event := <-scanner.Events():
		if event.Type != EventPeerFound || event.Peer.ID != "AA:BB:CC:DD:EE:03" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Peer.Address != "bluez://hci0/AA:BB:CC:DD:EE:03" || event.Peer.Source != models.SourceBLE {
			t.Fatalf("unexpected peer: %+v", event.Peer)
		}
	default:
		t.Fatalf("expected one found event")
	}

	select {
	case event := <-scanner.Events():
		t.Fatalf("expected no further events, got %+v", event)
	default:
	}
}

func TestMatchesPrefix(t *testing.T) {
	if !matchesPrefix("anything", nil) {
		t.Fatalf("expected empty prefix list to match")
	}
	if !matchesPrefix("SlideHost", []string{"Pres", "Slide"}) {
		t.Fatalf("expected prefix match")
	}
	if matchesPrefix("slidehost", []string{"Slide"}) {
		t.Fatalf("expected prefix match to be case sensitive")
	}
}
