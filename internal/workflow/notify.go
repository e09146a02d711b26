package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/nubegest/approvals/model"
)

// Notifier is the external notification capability. Delivery mechanics
// (templates, email/push transports) live entirely behind this interface.
type Notifier interface {
	// NotifyApprovers informs the candidate approvers of a step that an
	// instance awaits their decision.
	NotifyApprovers(ctx context.Context, orgID string, approvers []model.Approver, inst model.WorkflowInstance, step model.WorkflowStep) error

	// NotifyRequester informs the original requester of an instance outcome
	// or progress.
	NotifyRequester(ctx context.Context, orgID, requesterID string, inst model.WorkflowInstance, outcome string) error
}

// Dispatcher wraps a Notifier as a best-effort side channel: it always runs
// after the state-mutating transaction has committed, and a delivery failure
// is logged and counted but never propagated, so a messaging outage can
// never reverse or block a decision.
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	onError  func()
}

// NewDispatcher creates a best-effort notification dispatcher. onError is
// invoked once per failed delivery (metrics hook); it may be nil.
func NewDispatcher(notifier Notifier, logger *zap.Logger, onError func()) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger, onError: onError}
}

// Approvers notifies the approvers of a step. Never returns an error.
func (d *Dispatcher) Approvers(ctx context.Context, orgID string, approvers []model.Approver, inst model.WorkflowInstance, step model.WorkflowStep) {
	if d == nil || d.notifier == nil || len(approvers) == 0 {
		return
	}
	if err := d.notifier.NotifyApprovers(ctx, orgID, approvers, inst, step); err != nil {
		d.fail(model.NewNotificationError(err), inst.ID,
			zap.Int64("step_id", step.ID),
			zap.Int("approvers", len(approvers)),
		)
	}
}

// Requester notifies the original requester. Never returns an error.
func (d *Dispatcher) Requester(ctx context.Context, orgID, requesterID string, inst model.WorkflowInstance, outcome string) {
	if d == nil || d.notifier == nil {
		return
	}
	if err := d.notifier.NotifyRequester(ctx, orgID, requesterID, inst, outcome); err != nil {
		d.fail(model.NewNotificationError(err), inst.ID,
			zap.String("requester_id", requesterID),
			zap.String("outcome", outcome),
		)
	}
}

func (d *Dispatcher) fail(err error, instanceID string, fields ...zap.Field) {
	if d.onError != nil {
		d.onError()
	}
	if d.logger == nil {
		return
	}
	fields = append([]zap.Field{
		zap.String("instance_id", instanceID),
		zap.Error(err),
	}, fields...)
	d.logger.Error("notification delivery failed", fields...)
}
