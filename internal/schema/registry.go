package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/fleetload/internal/domain"
)

// ErrUnknownEntityType is returned for entity types without a registered shape.
var ErrUnknownEntityType = errors.New("unknown entity type")

// Registry resolves entity types to their upload shapes.
type Registry struct {
	order  []domain.EntityType
	byType map[domain.EntityType]Descriptor
}

// NewRegistry validates and indexes the given descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	registry := &Registry{byType: make(map[domain.EntityType]Descriptor, len(descriptors))}
	for _, desc := range descriptors {
		if err := Validate(desc); err != nil {
			return nil, fmt.Errorf("invalid descriptor: %w", err)
		}
		if _, exists := registry.byType[desc.EntityType]; exists {
			return nil, fmt.Errorf("entity type %s registered twice", desc.EntityType)
		}
		registry.order = append(registry.order, desc.EntityType)
		registry.byType[desc.EntityType] = desc
	}
	return registry, nil
}

// DefaultRegistry holds the vehicle, transporter and warehouse shapes.
func DefaultRegistry() *Registry {
	registry, err := NewRegistry(Vehicle(), Transporter(), Warehouse())
	if err != nil {
		panic(err)
	}
	return registry
}

// Lookup returns the descriptor for a case-insensitive entity type name.
func (r *Registry) Lookup(entityType string) (Descriptor, error) {
	key := domain.EntityType(strings.ToLower(strings.TrimSpace(entityType)))
	desc, ok := r.byType[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return desc, nil
}

// EntityTypes lists registered entity types in registration order.
func (r *Registry) EntityTypes() []domain.EntityType {
	return append([]domain.EntityType(nil), r.order...)
}
