package breaker

import "sync"

// Registry holds one breaker per provider key, created lazily at first
// use. Breakers persist for the process lifetime.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	hook     StateChangeHook
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. The hook, if non-nil, observes
// every breaker's state transitions.
func NewRegistry(cfg Config, hook StateChangeHook) *Registry {
	return &Registry{
		cfg:      cfg,
		hook:     hook,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the given provider key, creating it on
// first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = New(key, r.cfg, r.hook)
	r.breakers[key] = b
	return b
}

// Stats returns a snapshot of every breaker.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.Stats()
	}
	return out
}

// ResetAll forces every breaker closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
