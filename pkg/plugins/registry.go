package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps module names to plugin exports. Configuration files refer to
// plugins by module name; the registry is how those names become code.
type Registry struct {
	exports map[string]*Export
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		exports: make(map[string]*Export),
	}
}

// Register adds a plugin export to the registry
func (r *Registry) Register(export Export) error {
	if export.Module == "" {
		return fmt.Errorf("cannot register plugin without a module name")
	}
	if export.Init == nil {
		return fmt.Errorf("plugin %s has no Init function", export.Module)
	}
	for c := range export.Provides {
		if !IsCapability(string(c)) {
			return fmt.Errorf("plugin %s provides unknown capability %q", export.Module, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exports[export.Module]; exists {
		return fmt.Errorf("%w: module %s already registered", ErrDuplicatePlugin, export.Module)
	}

	e := export
	e.LoadAfter = append([]string(nil), export.LoadAfter...)
	if export.Provides != nil {
		e.Provides = make(map[Capability]string, len(export.Provides))
		for c, local := range export.Provides {
			if local == "" {
				local = export.Module
			}
			e.Provides[c] = local
		}
	}
	r.exports[export.Module] = &e
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(export Export) {
	if err := r.Register(export); err != nil {
		panic(err)
	}
}

// Lookup returns the export registered for module
func (r *Registry) Lookup(module string) (*Export, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	export, exists := r.exports[module]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	return export, nil
}

// Has checks if a module is registered
func (r *Registry) Has(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.exports[module]
	return exists
}

// Modules returns all registered module names, sorted
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.exports))
	for name := range r.exports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Count returns the number of registered modules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.exports)
}
