package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nubegest/approvals/model"
)

// Metrics is the observability hook the engine records into. Implemented by
// the observability package; a nil Metrics disables recording.
type Metrics interface {
	RecordInstanceStarted(entityType string)
	RecordDecision(decision string)
	RecordNotificationFailure()
}

// Engine is the approval workflow engine. It is stateless between calls:
// all coordination happens through the relational store, so concurrent
// request handlers can share one Engine.
type Engine struct {
	store    Store
	roster   Roster
	bindings *BindingRegistry
	dispatch *Dispatcher
	auth     Authorizer
	logger   *zap.Logger
	metrics  Metrics

	// defaultBranchID is the branch used when the actor has no active
	// assignment. Explicit configuration, not a hard-coded default.
	defaultBranchID int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotifier sets the notification capability. Without one, notification
// dispatch is a no-op.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.dispatch = NewDispatcher(n, e.logger, func() {
			if e.metrics != nil {
				e.metrics.RecordNotificationFailure()
			}
		})
	}
}

// WithAuthorizer replaces the default roster-membership authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.auth = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaultBranchID sets the branch used when an actor has no active
// branch assignment.
func WithDefaultBranchID(id int64) Option {
	return func(e *Engine) { e.defaultBranchID = id }
}

// NewEngine creates a workflow engine. Options are applied in order, so
// WithLogger should precede WithNotifier when both are given.
func NewEngine(store Store, roster Roster, bindings *BindingRegistry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		roster:   roster,
		bindings: bindings,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.auth == nil {
		e.auth = &rosterAuthorizer{engine: e}
	}
	if e.dispatch == nil {
		e.dispatch = NewDispatcher(nil, e.logger, nil)
	}
	return e
}

// GetInstance retrieves a workflow instance by id.
func (e *Engine) GetInstance(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.WorkflowInstance, error) {
	return e.store.GetInstance(ctx, rctx.OrgID, instanceID)
}

// History retrieves the audit trail of an instance, oldest first.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, instanceID string) ([]model.HistoryEntry, error) {
	return e.store.History(ctx, rctx.OrgID, instanceID)
}

// FindOverdue returns en_progreso instances whose deadline passed before the
// cutoff. The engine records deadlines but runs no expiry sweep of its own;
// this read exists for an external scheduler.
func (e *Engine) FindOverdue(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	return e.store.FindOverdue(ctx, cutoff)
}

// notifyStepApprovers resolves and notifies the approvers of a step as a
// best-effort side channel. Resolution failures are logged, never returned.
func (e *Engine) notifyStepApprovers(ctx context.Context, orgID string, inst model.WorkflowInstance, step model.WorkflowStep) {
	approvers, err := e.ResolveApprovers(ctx, orgID, step, inst.RequestedBy)
	if err != nil {
		e.logger.Error("approver resolution failed, skipping notification",
			zap.String("instance_id", inst.ID),
			zap.Int64("step_id", step.ID),
			zap.Error(err),
		)
		return
	}
	e.dispatch.Approvers(ctx, orgID, approvers, inst, step)
}
