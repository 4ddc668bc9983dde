package provider

import (
	"context"
	"fmt"
	"sync"

	"dealflow/models"
)

// Client is one upstream source of raw deal candidates. The engine does not
// care whether the implementation fronts a paid search API or a scraping
// subsystem, as long as it returns provider-native candidates and fails with
// a classifiable *models.ProviderError.
type Client interface {
	Name() string
	Search(ctx context.Context, query models.Query) ([]models.RawCandidate, error)
}

// Registry is the static provider registry assembled at startup. Adding a
// provider is a registration call, not a runtime lookup.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client. Duplicate names are a wiring bug and fail loudly.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.clients[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// All returns every registered client in registration order.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]Client, 0, len(r.order))
	for _, name := range r.order {
		clients = append(clients, r.clients[name])
	}
	return clients
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
