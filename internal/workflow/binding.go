package workflow

import (
	"context"
	"fmt"

	"github.com/nubegest/approvals/model"
)

// EntityBinding maps workflow outcomes to domain-entity mutations. Both
// hooks run inside the same transaction as the decision that triggered
// them: a hook failure rolls back the whole decision.
type EntityBinding interface {
	// EntityType returns the entity type the binding handles.
	EntityType() string

	// OnApproved applies the fin step's configured action to the entity.
	OnApproved(ctx context.Context, tx Tx, orgID, entityID string, cfg model.TerminalConfig) error

	// OnRejected reverts the entity to its prior state.
	OnRejected(ctx context.Context, tx Tx, orgID, entityID string) error
}

// BindingRegistry resolves entity bindings by entity type. Adding an entity
// type means registering a new binding, not branching on strings. An
// unregistered entity type is a configuration error, not a silent no-op.
type BindingRegistry struct {
	bindings map[string]EntityBinding
}

// NewBindingRegistry creates a registry with the given bindings.
func NewBindingRegistry(bindings ...EntityBinding) *BindingRegistry {
	r := &BindingRegistry{bindings: make(map[string]EntityBinding, len(bindings))}
	for _, b := range bindings {
		r.bindings[b.EntityType()] = b
	}
	return r
}

// Register adds a binding, replacing any previous one for the same entity
// type.
func (r *BindingRegistry) Register(b EntityBinding) {
	r.bindings[b.EntityType()] = b
}

// ForEntityType resolves the binding for an entity type.
func (r *BindingRegistry) ForEntityType(entityType string) (EntityBinding, error) {
	b, ok := r.bindings[entityType]
	if !ok {
		return nil, model.NewConfigurationError(
			fmt.Sprintf("no entity binding registered for entity type %q", entityType),
		)
	}
	return b, nil
}
