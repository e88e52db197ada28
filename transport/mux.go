package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Mux routes Open calls to the provider registered for the address scheme.
type Mux struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{providers: make(map[string]Provider)}
}

// Register binds scheme to p, replacing any earlier registration.
func (m *Mux) Register(scheme string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[strings.ToLower(scheme)] = p
}

// Schemes lists registered schemes in sorted order.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.providers))
	for scheme := range m.providers {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Open selects a provider by scheme and passes it the full address.
func (m *Mux) Open(ctx context.Context, address string) (Handle, error) {
	scheme, _, err := SplitAddress(address)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	p, ok := m.providers[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return p.Open(ctx, address)
}
