package gateway

import (
	"fmt"
	"sync"
)

// Factory builds the adapter for one configured instance of a gateway.
type Factory func(instance string) (Adapter, error)

type registration struct {
	defaults FrontendDefaults
	factory  Factory
}

// Registry resolves a stored (settings-type, instance) pair to a concrete
// adapter. Registration happens once at startup; resolution is read-only and
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]registration)}
}

// Register binds a settings type to its adapter factory and presentation
// defaults. A later registration for the same type replaces the earlier one.
func (r *Registry) Register(settingsType string, defaults FrontendDefaults, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[settingsType] = registration{defaults: defaults, factory: factory}
}

// Resolve returns the adapter for the given gateway ref.
func (r *Registry) Resolve(ref Ref) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.adapters[ref.SettingsType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, ref.SettingsType)
	}
	return reg.factory(ref.Instance)
}

// FrontendDefaults returns the presentation defaults declared for a settings
// type, without instantiating an adapter.
func (r *Registry) FrontendDefaults(settingsType string) (FrontendDefaults, error) {
	r.mu.RLock()
	reg, ok := r.adapters[settingsType]
	r.mu.RUnlock()
	if !ok {
		return FrontendDefaults{}, fmt.Errorf("%w: %q", ErrUnknownGateway, settingsType)
	}
	return reg.defaults, nil
}
