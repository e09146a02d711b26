package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/nubegest/approvals/model"
)

// EntityTypeOrdenCompra is the purchase order entity type.
const EntityTypeOrdenCompra = "orden_compra"

// OrderDraftState is the state a purchase order reverts to on rejection.
const OrderDraftState = "borrador"

// OrderTx is the transactional surface the purchase order binding requires.
// Both store transactions (PostgreSQL and in-memory) implement it.
type OrderTx interface {
	SetOrderState(ctx context.Context, orgID, orderID, state string, approvedAt time.Time) error
	ResetOrderToDraft(ctx context.Context, orgID, orderID, draftState string) error
}

// OrderBinding is the purchase order EntityBinding: approval applies the fin
// step's configured target state plus an approval timestamp; rejection
// resets the order to its draft state.
type OrderBinding struct{}

// NewOrderBinding creates the purchase order binding.
func NewOrderBinding() *OrderBinding {
	return &OrderBinding{}
}

// EntityType implements EntityBinding.
func (b *OrderBinding) EntityType() string { return EntityTypeOrdenCompra }

// OnApproved implements EntityBinding.
func (b *OrderBinding) OnApproved(ctx context.Context, tx Tx, orgID, entityID string, cfg model.TerminalConfig) error {
	otx, ok := tx.(OrderTx)
	if !ok {
		return model.NewConfigurationError("store transaction does not support purchase order mutations")
	}
	if cfg.Action != model.ActionCambiarEstado {
		return model.NewConfigurationError(
			fmt.Sprintf("unknown terminal action %q for purchase order %q", cfg.Action, entityID),
		)
	}
	if cfg.TargetState == "" {
		return model.NewConfigurationError(
			fmt.Sprintf("terminal action for purchase order %q has no target state", entityID),
		)
	}
	return otx.SetOrderState(ctx, orgID, entityID, cfg.TargetState, time.Now().UTC())
}

// OnRejected implements EntityBinding.
func (b *OrderBinding) OnRejected(ctx context.Context, tx Tx, orgID, entityID string) error {
	otx, ok := tx.(OrderTx)
	if !ok {
		return model.NewConfigurationError("store transaction does not support purchase order mutations")
	}
	return otx.ResetOrderToDraft(ctx, orgID, entityID, OrderDraftState)
}
