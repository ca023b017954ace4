package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ncecere/synthtext"
)

// Registry maps engine names to engine definitions. It lets the CLI,
// configuration and server refer to custom engines by a short name
// instead of repeating "id,max_tokens" everywhere.
type Registry interface {
	// Engine returns the definition registered under name.
	// If no such engine exists, a *NoSuchEngineError is returned.
	Engine(name string) (synthtext.EngineDefinition, error)

	// Register registers or replaces an engine under the given name.
	// Passing a zero definition removes any existing registration.
	Register(name string, def synthtext.EngineDefinition)

	// Names returns the registered names in sorted order.
	Names() []string
}

// NoSuchEngineError indicates that a requested engine name was not
// found in the registry.
type NoSuchEngineError struct {
	// Name is the engine name that was requested.
	Name string
}

func (e *NoSuchEngineError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("registry: no such engine %q", e.Name)
}

// InMemoryRegistry is a concurrency-safe in-memory implementation of Registry.
// It is suitable for typical application startup wiring where engines are
// registered once and then used throughout the lifetime of the process.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	engines map[string]synthtext.EngineDefinition
}

// Ensure InMemoryRegistry implements Registry.
var _ Registry = (*InMemoryRegistry)(nil)

// NewInMemoryRegistry creates a new empty in-memory registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		engines: make(map[string]synthtext.EngineDefinition),
	}
}

// NewWithPresets creates a registry holding every preset under its id.
func NewWithPresets() *InMemoryRegistry {
	r := NewInMemoryRegistry()
	for _, def := range synthtext.Presets() {
		r.Register(def.ID(), def)
	}
	return r
}

// Engine implements Registry.Engine.
func (r *InMemoryRegistry) Engine(name string) (synthtext.EngineDefinition, error) {
	r.mu.RLock()
	def, ok := r.engines[name]
	r.mu.RUnlock()
	if !ok || def.IsZero() {
		return synthtext.EngineDefinition{}, &NoSuchEngineError{Name: name}
	}
	return def, nil
}

// Register implements Registry.Register.
func (r *InMemoryRegistry) Register(name string, def synthtext.EngineDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.IsZero() {
		delete(r.engines, name)
		return
	}
	r.engines[name] = def
}

// Names implements Registry.Names.
func (r *InMemoryRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Resolve looks name up in reg and falls back to parsing it as a preset
// alias or an "id,max_tokens" pair. A malformed pair yields the
// *synthtext.ValidationError; any other unknown name a
// *NoSuchEngineError.
func Resolve(reg Registry, name string) (synthtext.EngineDefinition, error) {
	if reg != nil {
		if def, err := reg.Engine(name); err == nil {
			return def, nil
		}
	}
	def, err := synthtext.ParseEngineDefinition(name)
	if err != nil {
		if strings.Contains(name, ",") {
			return synthtext.EngineDefinition{}, err
		}
		return synthtext.EngineDefinition{}, &NoSuchEngineError{Name: name}
	}
	return def, nil
}
