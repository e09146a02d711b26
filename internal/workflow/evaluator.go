package workflow

import (
	"context"

	"github.com/nubegest/approvals/model"
)

// EvaluateRequiresApproval decides whether any configured workflow applies
// to a pending entity action. It loads the active definitions for the
// (organization, entity type) pair in ascending id order and returns the
// first one whose condition holds for {entity data, actor, branch}, or nil
// when none applies. A pure function of its inputs and the stored
// definitions; no side effects.
func (e *Engine) EvaluateRequiresApproval(
	ctx context.Context,
	rctx *model.RequestContext,
	entityType, entityID string,
	entityData map[string]any,
) (*model.WorkflowDefinition, error) {
	branchID, err := e.resolveActorBranch(ctx, rctx.OrgID, rctx.ActorID)
	if err != nil {
		return nil, err
	}

	defs, err := e.store.ListActiveDefinitions(ctx, rctx.OrgID, entityType)
	if err != nil {
		return nil, err
	}

	cctx := model.ConditionContext{
		Entity: entityData,
		Actor:  model.ConditionActor{ID: rctx.ActorID, Roles: rctx.Roles},
		Branch: model.ConditionBranch{ID: branchID},
	}

	for i := range defs {
		if defs[i].Condition.Evaluate(cctx) {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// resolveActorBranch resolves the actor's branch by priority: a
// manager-flagged active assignment first, then any active assignment, then
// the configured default branch.
func (e *Engine) resolveActorBranch(ctx context.Context, orgID, actorID string) (int64, error) {
	assignments, err := e.roster.BranchAssignments(ctx, orgID, actorID)
	if err != nil {
		return 0, err
	}

	var anyActive int64
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		if a.IsManager {
			return a.BranchID, nil
		}
		if anyActive == 0 {
			anyActive = a.BranchID
		}
	}
	if anyActive != 0 {
		return anyActive, nil
	}
	return e.defaultBranchID, nil
}
