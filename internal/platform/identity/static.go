package identity

import (
	"context"
	"sync"

	"github.com/jmercadal/pairvault/internal/domain"
)

// StaticProvider is an in-process identity provider for development and
// tests: a fixed allow list plus a mutable block list.
type StaticProvider struct {
	mu      sync.RWMutex
	active  map[domain.Identity]struct{}
	blocked map[domain.Identity]struct{}
}

// NewStaticProvider creates a provider that treats the given identities as
// active. An empty list means every identity is active.
func NewStaticProvider(active ...domain.Identity) *StaticProvider {
	p := &StaticProvider{
		active:  make(map[domain.Identity]struct{}, len(active)),
		blocked: make(map[domain.Identity]struct{}),
	}
	for _, id := range active {
		p.active[id] = struct{}{}
	}
	return p
}

// Block marks an identity as blocked.
func (p *StaticProvider) Block(id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked[id] = struct{}{}
}

// Unblock removes an identity from the block list.
func (p *StaticProvider) Unblock(id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blocked, id)
}

// IsActive reports whether id is in the allow list.
func (p *StaticProvider) IsActive(_ context.Context, id domain.Identity) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.active) == 0 {
		return id != "", nil
	}
	_, ok := p.active[id]
	return ok, nil
}

// IsBlocked reports whether id is in the block list.
func (p *StaticProvider) IsBlocked(_ context.Context, id domain.Identity) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.blocked[id]
	return ok, nil
}

// Compile-time interface check.
var _ domain.IdentityProvider = (*StaticProvider)(nil)
