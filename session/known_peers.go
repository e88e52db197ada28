package session

import (
	"sync"

	"remotectl/models"
)

// KnownPeers is an insertion-ordered set of peers keyed by ID. Entries are
// never replaced or removed.
type KnownPeers struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]models.Peer
}

// NewKnownPeers returns an empty set.
func NewKnownPeers() *KnownPeers {
	return &KnownPeers{byID: make(map[string]models.Peer)}
}

// Add inserts peer if its ID is new and reports whether it did.
func (k *KnownPeers) Add(peer models.Peer) bool {
	if peer.ID == "" {
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.byID[peer.ID]; exists {
		return false
	}
	k.byID[peer.ID] = peer
	k.order = append(k.order, peer.ID)
	return true
}

// Get returns the peer with id.
func (k *KnownPeers) Get(id string) (models.Peer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	peer, ok := k.byID[id]
	return peer, ok
}

// List returns peers in insertion order.
func (k *KnownPeers) List() []models.Peer {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]models.Peer, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.byID[id])
	}
	return out
}

// Len returns the number of known peers.
func (k *KnownPeers) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.order)
}
