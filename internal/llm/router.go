package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Router manages inference hosts and routing
type Router struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRouter creates a new inference router
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
	}
}

// RegisterProvider registers an inference host
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a configured host by name
func (r *Router) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}

	if !p.IsConfigured() {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}

	return p, nil
}

// ListProviders returns the names of configured hosts
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var providers []string
	for name, p := range r.providers {
		if p.IsConfigured() {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)
	return providers
}
