package scene

import (
	"fmt"
	"sync"
)

// Factory creates an empty object of one concrete type.
type Factory func() Object

// Registry maps wire type tags to object factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint8]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[uint8]Factory)}
}

// DefaultRegistry returns a registry with Mesh and Light registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TypeMesh, func() Object { return &Mesh{} })
	_ = r.Register(TypeLight, func() Object { return &Light{} })
	return r
}

// Register adds a factory for tag.
func (r *Registry) Register(tag uint8, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateType, tag)
	}
	r.factories[tag] = factory
	return nil
}

// New creates an empty object for tag.
func (r *Registry) New(tag uint8) (Object, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, tag)
	}
	return factory(), nil
}
