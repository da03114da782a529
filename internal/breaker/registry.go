package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one Breaker per endpoint identity. It is an explicit handle
// scoped to one run: tests construct a fresh Registry instead of resetting
// shared state.
type Registry struct {
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty Registry with the given shared settings.
func NewRegistry(settings Settings, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for the given endpoint, creating it on first use.
func (r *Registry) For(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[endpoint]
	if !ok {
		b = New(endpoint, r.settings, r.logger)
		r.breakers[endpoint] = b
	}
	return b
}

// Snapshots returns diagnostics for every tracked endpoint.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
