package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nubegest/approvals/internal/observability"
	"github.com/nubegest/approvals/model"
)

// StartWorkflow creates a workflow instance positioned at the definition's
// first aprobacion step and arms its deadline. A missing inicio step, a
// missing siguiente edge, or a siguiente edge that does not lead to an
// aprobacion step are misconfiguration, not business exceptions: they fail
// with CONFIGURATION_ERROR and nothing is written.
//
// When ambient is non-nil the instance and its "iniciado" history entry are
// written through the caller's transaction, so a parent operation ("create
// the order, then require approval for it") succeeds or fails as one unit;
// the caller owns the commit. With a nil ambient the engine opens its own
// transaction.
//
// Approver notification for the first step runs after the transaction has
// committed, as a best-effort side channel; failures are logged, never rolled
// back. On the ambient path the engine cannot know when (or whether) the
// caller commits, so no notification is sent here: the caller invokes
// NotifyPendingApprovers after its own commit.
func (e *Engine) StartWorkflow(
	ctx context.Context,
	rctx *model.RequestContext,
	workflowID int64,
	entityType, entityID string,
	snapshot map[string]any,
	ambient Tx,
) (_ model.WorkflowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.start",
		observability.AttrWorkflowID.Int64(workflowID),
		observability.AttrOrgID.String(rctx.OrgID),
		observability.AttrActorID.String(rctx.ActorID),
		observability.AttrEntityType.String(entityType),
		observability.AttrEntityID.String(entityID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	def, err := e.store.GetDefinition(ctx, rctx.OrgID, workflowID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if def.EntityType != entityType {
		return model.WorkflowInstance{}, model.NewConfigurationError(
			fmt.Sprintf("workflow %d governs entity type %q, not %q", workflowID, def.EntityType, entityType),
		)
	}

	first, err := e.resolveFirstApprovalStep(ctx, workflowID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	now := time.Now().UTC()
	inst := model.WorkflowInstance{
		ID:            uuid.New().String(),
		WorkflowID:    workflowID,
		OrgID:         rctx.OrgID,
		EntityType:    entityType,
		EntityID:      entityID,
		CurrentStepID: first.ID,
		Estado:        model.EstadoEnProgreso,
		Context:       snapshot,
		RequestedBy:   rctx.ActorID,
		Deadline:      now.Add(time.Duration(first.TimeoutHoras()) * time.Hour),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	write := func(ctx context.Context, tx Tx) error {
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, model.HistoryEntry{
			ID:         uuid.New().String(),
			InstanceID: inst.ID,
			StepID:     first.ID,
			Accion:     model.AccionIniciado,
			ActorID:    rctx.ActorID,
			Snapshot: map[string]any{
				"entity_type": entityType,
				"entity_id":   entityID,
				"deadline":    inst.Deadline.Format(time.RFC3339),
			},
			CreatedAt: now,
		})
	}

	if ambient != nil {
		err = write(ctx, ambient)
	} else {
		err = e.store.InTx(ctx, rctx.OrgID, write)
	}
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordInstanceStarted(entityType)
	}
	if ambient == nil {
		e.notifyStepApprovers(ctx, rctx.OrgID, inst, first)
	}

	return inst, nil
}

// NotifyPendingApprovers resolves and notifies the approvers of an instance's
// current step. Callers that started a workflow inside their own transaction
// call this once that transaction has committed; an instance already past its
// approval steps is a no-op.
func (e *Engine) NotifyPendingApprovers(ctx context.Context, rctx *model.RequestContext, inst model.WorkflowInstance) error {
	if inst.Estado != model.EstadoEnProgreso {
		return nil
	}
	step, err := e.store.GetStep(ctx, inst.CurrentStepID)
	if err != nil {
		return err
	}
	if step.Tipo != model.StepAprobacion {
		return nil
	}
	e.notifyStepApprovers(ctx, rctx.OrgID, inst, step)
	return nil
}

// resolveFirstApprovalStep walks inicio -> siguiente and requires the target
// to be an aprobacion step.
func (e *Engine) resolveFirstApprovalStep(ctx context.Context, workflowID int64) (model.WorkflowStep, error) {
	inicio, err := e.store.GetInitialStep(ctx, workflowID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.WorkflowStep{}, model.NewConfigurationError(
				fmt.Sprintf("workflow %d has no inicio step", workflowID),
			)
		}
		return model.WorkflowStep{}, err
	}
	if inicio.Siguiente == 0 {
		return model.WorkflowStep{}, model.NewConfigurationError(
			fmt.Sprintf("inicio step %d of workflow %d has no siguiente edge", inicio.ID, workflowID),
		)
	}

	first, err := e.store.GetStep(ctx, inicio.Siguiente)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.WorkflowStep{}, model.NewConfigurationError(
				fmt.Sprintf("workflow %d: siguiente edge of inicio step points to missing step %d", workflowID, inicio.Siguiente),
			)
		}
		return model.WorkflowStep{}, err
	}
	if first.Tipo != model.StepAprobacion {
		return model.WorkflowStep{}, model.NewConfigurationError(
			fmt.Sprintf("workflow %d: first step after inicio is %q, expected aprobacion", workflowID, first.Tipo),
		)
	}
	return first, nil
}
