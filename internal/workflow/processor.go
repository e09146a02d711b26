package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nubegest/approvals/internal/observability"
	"github.com/nubegest/approvals/model"
)

// Approve records an approval decision on an instance. The permission check,
// the en_progreso guard, the chain advance, the instance update, the history
// entry, and (on a terminal outcome) the entity's on-approved hook all
// execute inside one organization-scoped transaction: a failure anywhere
// rolls back the whole decision. The row lock taken by the locked read plus
// the version-checked update guarantee exactly one winner between concurrent
// decisions on the same instance.
//
// When the approval advances the chain to a further aprobacion step, that
// step's approvers are notified only after the decision has committed.
// The original requester is always notified of the outcome. Both
// notifications are best-effort and can never reverse the decision.
func (e *Engine) Approve(ctx context.Context, rctx *model.RequestContext, instanceID, comment string) (_ model.WorkflowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.approve",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrOrgID.String(rctx.OrgID),
		observability.AttrActorID.String(rctx.ActorID),
		observability.AttrDecision.String(model.AccionAprobado),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var result model.WorkflowInstance
	var nextApproval *model.WorkflowStep

	err = e.store.InTx(ctx, rctx.OrgID, func(ctx context.Context, tx Tx) error {
		inst, step, err := e.loadForDecision(ctx, tx, rctx, instanceID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		var finCfg *model.TerminalConfig
		terminal := false

		if step.Aprobar == 0 {
			terminal = true
		} else {
			next, err := e.store.GetStep(ctx, step.Aprobar)
			if err != nil {
				return err
			}
			if next.Tipo == model.StepFin {
				terminal = true
				finCfg = next.Terminal
			} else {
				inst.CurrentStepID = next.ID
				nextApproval = &next
			}
		}

		if terminal {
			inst.Estado = model.EstadoAprobado
			inst.CompletedAt = &now
		}
		inst.Outcome = decisionOutcome(model.AccionAprobado, rctx.ActorID, comment, now)

		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, decisionHistory(inst, step.ID, model.AccionAprobado, rctx.ActorID, comment, now)); err != nil {
			return err
		}

		if terminal && finCfg != nil {
			binding, err := e.bindings.ForEntityType(inst.EntityType)
			if err != nil {
				return err
			}
			if err := binding.OnApproved(ctx, tx, rctx.OrgID, inst.EntityID, *finCfg); err != nil {
				return err
			}
		}

		inst.Version++
		result = inst
		return nil
	})
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(model.AccionAprobado)
	}
	e.logger.Info("approval recorded",
		zap.String("instance_id", result.ID),
		zap.String("actor_id", rctx.ActorID),
		zap.String("estado", result.Estado),
	)

	if nextApproval != nil {
		e.notifyStepApprovers(ctx, rctx.OrgID, result, *nextApproval)
	}
	e.dispatch.Requester(ctx, rctx.OrgID, result.RequestedBy, result, result.Estado)

	return result, nil
}

// Reject records a rejection. Whatever level of the chain rejects, the
// instance transitions unconditionally to rechazado and the entity's
// on-rejected hook runs in the same transaction, reverting the entity to
// its prior state. The requester is then notified best-effort.
func (e *Engine) Reject(ctx context.Context, rctx *model.RequestContext, instanceID, reason string) (_ model.WorkflowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.reject",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrOrgID.String(rctx.OrgID),
		observability.AttrActorID.String(rctx.ActorID),
		observability.AttrDecision.String(model.AccionRechazado),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var result model.WorkflowInstance

	err = e.store.InTx(ctx, rctx.OrgID, func(ctx context.Context, tx Tx) error {
		inst, step, err := e.loadForDecision(ctx, tx, rctx, instanceID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		inst.Estado = model.EstadoRechazado
		inst.CompletedAt = &now
		inst.Outcome = decisionOutcome(model.AccionRechazado, rctx.ActorID, reason, now)

		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, decisionHistory(inst, step.ID, model.AccionRechazado, rctx.ActorID, reason, now)); err != nil {
			return err
		}

		binding, err := e.bindings.ForEntityType(inst.EntityType)
		if err != nil {
			return err
		}
		if err := binding.OnRejected(ctx, tx, rctx.OrgID, inst.EntityID); err != nil {
			return err
		}

		inst.Version++
		result = inst
		return nil
	})
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(model.AccionRechazado)
	}
	e.logger.Info("rejection recorded",
		zap.String("instance_id", result.ID),
		zap.String("actor_id", rctx.ActorID),
	)

	e.dispatch.Requester(ctx, rctx.OrgID, result.RequestedBy, result, result.Estado)

	return result, nil
}

// loadForDecision performs the shared preamble of both decisions: a locked
// read of the instance, the permission check against the current step, and
// the en_progreso guard that makes decisions idempotent.
func (e *Engine) loadForDecision(ctx context.Context, tx Tx, rctx *model.RequestContext, instanceID string) (model.WorkflowInstance, model.WorkflowStep, error) {
	inst, err := tx.GetInstanceForUpdate(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, model.WorkflowStep{}, err
	}

	step, err := e.store.GetStep(ctx, inst.CurrentStepID)
	if err != nil {
		return model.WorkflowInstance{}, model.WorkflowStep{}, err
	}

	ok, err := e.auth.CanApprove(ctx, rctx.OrgID, rctx.ActorID, inst, step)
	if err != nil {
		return model.WorkflowInstance{}, model.WorkflowStep{}, err
	}
	if !ok {
		return model.WorkflowInstance{}, model.WorkflowStep{}, model.NewPermissionError(
			fmt.Sprintf("user %q is not an authorized approver for instance %q", rctx.ActorID, instanceID),
		)
	}

	if inst.Estado != model.EstadoEnProgreso {
		return model.WorkflowInstance{}, model.WorkflowStep{}, model.NewStateConflictError(
			fmt.Sprintf("workflow instance %q already processed (estado %q)", instanceID, inst.Estado),
		)
	}

	return inst, step, nil
}

func decisionOutcome(decision, actorID, comment string, at time.Time) map[string]any {
	return map[string]any{
		"decision":   decision,
		"actor_id":   actorID,
		"comment":    comment,
		"decided_at": at.Format(time.RFC3339),
	}
}

func decisionHistory(inst model.WorkflowInstance, fromStepID int64, accion, actorID, comment string, at time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		StepID:     fromStepID,
		Accion:     accion,
		ActorID:    actorID,
		Comment:    comment,
		Snapshot: map[string]any{
			"from_step": fromStepID,
			"to_step":   inst.CurrentStepID,
			"estado":    inst.Estado,
		},
		CreatedAt: at,
	}
}
