package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a fresh Strategy instance. Strategies register a Factory
// under a canonical name at package init time; the runner's host looks the
// factory up by the configured strategy.name, replacing the source's
// dynamic module import with a compile-time registry.
type Factory func(logger *slog.Logger) Strategy

// Registry is a thread-safe name -> Factory lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory under name, overwriting any prior
// registration for the same name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build looks up name and constructs a fresh Strategy instance.
func (r *Registry) Build(name string, logger *slog.Logger) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy registry: unknown strategy %q", name)
	}
	return factory(logger), nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is pre-populated with the two reference strategies shipped
// alongside the runner. A deployment wanting additional strategies calls
// Register on it, or builds its own Registry from scratch.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register(SmaCrossName, func(logger *slog.Logger) Strategy { return NewSmaCross(logger) })
	DefaultRegistry.Register(AtrRiskName, func(logger *slog.Logger) Strategy { return NewAtrRisk(logger) })
}
