package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nubegest/approvals/model"
)

// Roster is the external roster-resolution capability the engine consumes to
// find candidate approvers and the acting user's branch assignments.
type Roster interface {
	// UsersByRole returns the active users holding a role code within an
	// organization.
	UsersByRole(ctx context.Context, orgID, roleCode string) ([]model.Approver, error)

	// SupervisorOf returns the direct supervisor of a user, or nil when the
	// user has none.
	SupervisorOf(ctx context.Context, orgID, userID string) (*model.Approver, error)

	// BranchAssignments returns the user's branch/location assignments.
	BranchAssignments(ctx context.Context, orgID, userID string) ([]model.BranchAssignment, error)
}

// ResolveApprovers returns the users authorized to act on an aprobacion
// step. The supervisor strategy prefers the requester's direct supervisor
// and falls back to the configured role when none exists; approvers sourced
// from the fallback are flagged as delegates. A supervisor step with no
// supervisor and no fallback resolves to an empty set: the instance stalls
// with nobody able to act, which is logged as an error but is not treated
// as a failure here.
func (e *Engine) ResolveApprovers(ctx context.Context, orgID string, step model.WorkflowStep, requesterID string) ([]model.Approver, error) {
	if step.Tipo != model.StepAprobacion || step.Approval == nil {
		return nil, model.NewConfigurationError(
			fmt.Sprintf("step %d is not a configured aprobacion step", step.ID),
		)
	}

	cfg := step.Approval
	switch cfg.ApproverStrategy {
	case model.StrategyRole:
		return e.roster.UsersByRole(ctx, orgID, cfg.ApproverRole)

	case model.StrategySupervisor:
		sup, err := e.roster.SupervisorOf(ctx, orgID, requesterID)
		if err != nil {
			return nil, err
		}
		if sup != nil {
			return []model.Approver{*sup}, nil
		}
		if cfg.FallbackRole != "" {
			delegates, err := e.roster.UsersByRole(ctx, orgID, cfg.FallbackRole)
			if err != nil {
				return nil, err
			}
			for i := range delegates {
				delegates[i].IsDelegate = true
			}
			return delegates, nil
		}
		e.logger.Error("no approvers resolved: requester has no supervisor and step has no fallback role",
			zap.Int64("step_id", step.ID),
			zap.String("org_id", orgID),
			zap.String("requester_id", requesterID),
		)
		return nil, nil

	default:
		return nil, model.NewConfigurationError(
			fmt.Sprintf("step %d has unknown approver strategy %q", step.ID, cfg.ApproverStrategy),
		)
	}
}

// Authorizer decides whether a user may approve or reject an instance at its
// current step.
type Authorizer interface {
	CanApprove(ctx context.Context, orgID, actorID string, inst model.WorkflowInstance, step model.WorkflowStep) (bool, error)
}

// rosterAuthorizer is the default Authorizer: the actor must be among the
// step's resolved approvers.
type rosterAuthorizer struct {
	engine *Engine
}

func (a *rosterAuthorizer) CanApprove(ctx context.Context, orgID, actorID string, inst model.WorkflowInstance, step model.WorkflowStep) (bool, error) {
	approvers, err := a.engine.ResolveApprovers(ctx, orgID, step, inst.RequestedBy)
	if err != nil {
		return false, err
	}
	for _, appr := range approvers {
		if appr.ID == actorID {
			return true, nil
		}
	}
	return false, nil
}
