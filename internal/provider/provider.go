// Package provider defines the pluggable generation client consumed by
// the queue, plus a reference HTTP implementation.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/vietddude/genqueue/internal/core/domain"
)

// Client is the boundary to an external generation service. Errors must
// carry enough text (message or status code) for classification.
type Client interface {
	// Generate runs one billable generation call.
	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error)

	// Cancel best-effort-cancels a running generation. Not guaranteed
	// instantaneous.
	Cancel(ctx context.Context, jobID string) error

	// GetStatus reports the provider-side status of a generation.
	GetStatus(ctx context.Context, jobID string) (domain.ProviderJobStatus, error)
}

// Resolver maps a job's provider key to a client.
type Resolver interface {
	ClientFor(providerKey string) (Client, error)
}

// Mux is a Resolver backed by a registration map.
type Mux struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{clients: make(map[string]Client)}
}

// Register binds a provider key to a client. Later registrations for
// the same key win.
func (m *Mux) Register(key string, c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[key] = c
}

// ClientFor returns the client for a provider key.
func (m *Mux) ClientFor(key string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[key]
	if !ok {
		return nil, fmt.Errorf("invalid request: no client registered for provider %q", key)
	}
	return c, nil
}

// Keys returns the registered provider keys.
func (m *Mux) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.clients))
	for k := range m.clients {
		keys = append(keys, k)
	}
	return keys
}
