package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Pool is a thread-safe registry of named gateways, one per account, for
// processes that trade several accounts. Windows are never shared between
// gateways: each account has its own quota on the exchange.
type Pool struct {
	mu       sync.RWMutex
	gateways map[string]*Gateway
}

func NewPool() *Pool {
	return &Pool{gateways: make(map[string]*Gateway)}
}

// Register adds g under name. Names are unique.
func (p *Pool) Register(name string, g *Gateway) error {
	if name == "" || g == nil {
		return errors.New("pool: name and gateway are required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.gateways[name]; exists {
		return fmt.Errorf("gateway %q already registered", name)
	}
	p.gateways[name] = g
	return nil
}

func (p *Pool) Get(name string) (*Gateway, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	g, exists := p.gateways[name]
	if !exists {
		return nil, fmt.Errorf("gateway %q not found", name)
	}
	return g, nil
}

func (p *Pool) Exists(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.gateways[name]
	return exists
}

// Names returns the registered names in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.gateways))
	for name := range p.gateways {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove unregisters name and closes its gateway.
func (p *Pool) Remove(name string) error {
	p.mu.Lock()
	g, exists := p.gateways[name]
	delete(p.gateways, name)
	p.mu.Unlock()

	if !exists {
		return nil
	}
	return g.Close()
}

// Start starts every gateway, stopping at the first failure.
func (p *Pool) Start(ctx context.Context) error {
	for _, name := range p.Names() {
		g, err := p.Get(name)
		if err != nil {
			continue
		}
		if err := g.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

// Close closes and removes every gateway.
func (p *Pool) Close() error {
	p.mu.Lock()
	gateways := p.gateways
	p.gateways = make(map[string]*Gateway)
	p.mu.Unlock()

	var errs []error
	for name, g := range gateways {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
