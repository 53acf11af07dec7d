package addon

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/straight_server/pkg/logger"
)

// Env carries the shared resources a compiled-in module may use.
type Env struct {
	DB        *sqlx.DB
	Redis     *redis.Client
	Log       *logger.Logger
	ConfigDir string
}

// Factory creates a compiled-in bundle.
type Factory func(env Env) (Bundle, error)

// Info contains static information about a registered module.
type Info struct {
	Module      string `json:"module"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type registryEntry struct {
	factory Factory
	info    Info
}

// Registry maps module identifiers to compiled-in factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

var defaultRegistry = NewRegistry()

// Default returns the process registry that init functions register into.
func Default() *Registry { return defaultRegistry }

// Register adds a module factory to the default registry.
// This should be called in each module's init() function.
func Register(module string, info Info, factory Factory) {
	defaultRegistry.Register(module, info, factory)
}

// Register adds a module factory.
// Panics if the module is already registered or the factory is nil.
func (r *Registry) Register(module string, info Info, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory == nil {
		panic(fmt.Sprintf("addon: module %q registered with nil factory", module))
	}
	if _, exists := r.entries[module]; exists {
		panic(fmt.Sprintf("addon: module %q already registered", module))
	}

	info.Module = module
	r.entries[module] = registryEntry{factory: factory, info: info}
}

// Get returns a module factory.
func (r *Registry) Get(module string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[module]
	if !ok {
		return nil, false
	}
	return entry.factory, true
}

// MustGet returns a module factory or panics if not found.
func (r *Registry) MustGet(module string) Factory {
	factory, ok := r.Get(module)
	if !ok {
		panic(fmt.Sprintf("addon: module %q not registered. Available: %v", module, r.List()))
	}
	return factory
}

// List returns all registered module identifiers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Info returns the Info for a registered module.
func (r *Registry) Info(module string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[module]
	if !ok {
		return Info{}, false
	}
	return entry.info, true
}

// IsRegistered checks if a module is registered.
func (r *Registry) IsRegistered(module string) bool {
	_, ok := r.Get(module)
	return ok
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
