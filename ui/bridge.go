package ui

import (
	"sync"

	"remotectl/models"
)

// Bridge hands session callbacks to the window. The session calls it from
// link goroutines; the window drains the latest values on its UI timer, so
// it can be created and wired before any widget exists.
type Bridge struct {
	mu            sync.Mutex
	status        string
	statusChanged bool
	peers         []models.Peer
	peersChanged  bool
	notices       []string
}

// NewBridge returns an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// StatusChanged records the latest status line.
func (b *Bridge) StatusChanged(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.statusChanged = true
}

// PeersChanged records the latest peer list.
func (b *Bridge) PeersChanged(peers []models.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers = append([]models.Peer(nil), peers...)
	b.peersChanged = true
}

// Notice queues a one-shot message for the notice line.
func (b *Bridge) Notice(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, text)
}

type bridgeUpdate struct {
	status        string
	statusChanged bool
	peers         []models.Peer
	peersChanged  bool
	notices       []string
}

func (u bridgeUpdate) empty() bool {
	return !u.statusChanged && !u.peersChanged && len(u.notices) == 0
}

// take returns everything recorded since the previous call.
func (b *Bridge) take() bridgeUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()

	update := bridgeUpdate{
		status:        b.status,
		statusChanged: b.statusChanged,
		peers:         b.peers,
		peersChanged:  b.peersChanged,
		notices:       b.notices,
	}
	b.statusChanged = false
	b.peersChanged = false
	b.peers = nil
	b.notices = nil
	return update
}
