package workflow_test

import (
	"context"
	"sync"

	"github.com/nubegest/approvals/internal/roster"
	"github.com/nubegest/approvals/internal/workflow"
	"github.com/nubegest/approvals/model"
)

const (
	testOrg     = "org-1"
	testOrder   = "po-1001"
	requesterID = "u-requester"
	nivel1ID    = "u-nivel1"
	nivel2ID    = "u-nivel2"
)

// Step ids of the two-level purchase order chain seeded by newTestFixture.
const (
	stepInicioID = int64(10)
	stepNivel1ID = int64(11)
	stepNivel2ID = int64(12)
	stepFinID    = int64(13)
)

const testWorkflowID = int64(1)

type fixture struct {
	store    *workflow.MemoryStore
	roster   *roster.MemoryRoster
	notifier *recordingNotifier
	engine   *workflow.Engine
}

// newTestFixture seeds a two-level approval chain for purchase orders:
// inicio -> nivel1 (role) -> nivel2 (role) -> fin (cambiar_estado aprobada),
// plus a roster with one approver per level and a draft order row.
func newTestFixture(opts ...workflow.Option) *fixture {
	store := workflow.NewMemoryStore()
	store.AddDefinition(model.WorkflowDefinition{
		ID:         testWorkflowID,
		OrgID:      testOrg,
		EntityType: workflow.EntityTypeOrdenCompra,
		Name:       "aprobacion ordenes de compra",
		Condition:  &model.Condition{Field: "monto", Op: model.OpGte, Value: 5000},
		Active:     true,
	})
	store.AddStep(model.WorkflowStep{
		ID: stepInicioID, WorkflowID: testWorkflowID,
		Tipo: model.StepInicio, Nombre: "inicio",
		Siguiente: stepNivel1ID,
	})
	store.AddStep(model.WorkflowStep{
		ID: stepNivel1ID, WorkflowID: testWorkflowID,
		Tipo: model.StepAprobacion, Nombre: "nivel 1",
		Approval: &model.ApprovalConfig{
			ApproverStrategy: model.StrategyRole,
			ApproverRole:     "aprobador_nivel1",
		},
		Aprobar: stepNivel2ID,
	})
	store.AddStep(model.WorkflowStep{
		ID: stepNivel2ID, WorkflowID: testWorkflowID,
		Tipo: model.StepAprobacion, Nombre: "nivel 2",
		Approval: &model.ApprovalConfig{
			ApproverStrategy: model.StrategyRole,
			ApproverRole:     "aprobador_nivel2",
		},
		Aprobar: stepFinID,
	})
	store.AddStep(model.WorkflowStep{
		ID: stepFinID, WorkflowID: testWorkflowID,
		Tipo: model.StepFin, Nombre: "fin",
		Terminal: &model.TerminalConfig{
			Action:      model.ActionCambiarEstado,
			TargetState: "aprobada",
		},
	})
	store.PutOrder(testOrder, workflow.MemOrder{
		OrgID: testOrg,
		State: "pendiente_aprobacion",
	})

	r := roster.NewMemoryRoster()
	r.AddRoleMember(testOrg, "aprobador_nivel1", model.Approver{ID: nivel1ID, Name: "Nivel Uno"})
	r.AddRoleMember(testOrg, "aprobador_nivel2", model.Approver{ID: nivel2ID, Name: "Nivel Dos"})

	notifier := &recordingNotifier{}
	allOpts := append([]workflow.Option{
		workflow.WithDefaultBranchID(1),
		workflow.WithNotifier(notifier),
	}, opts...)

	return &fixture{
		store:    store,
		roster:   r,
		notifier: notifier,
		engine:   workflow.NewEngine(store, r, workflow.NewBindingRegistry(workflow.NewOrderBinding()), allOpts...),
	}
}

func (f *fixture) requester() *model.RequestContext {
	return &model.RequestContext{ActorID: requesterID, OrgID: testOrg, Roles: []string{"empleado"}}
}

func (f *fixture) approver(userID string) *model.RequestContext {
	return &model.RequestContext{ActorID: userID, OrgID: testOrg}
}

// recordingNotifier captures notification calls for assertions. failWith, if
// set, is returned from every delivery.
type recordingNotifier struct {
	mu       sync.Mutex
	failWith error

	approverCalls []approverCall
	outcomeCalls  []outcomeCall
}

type approverCall struct {
	stepID    int64
	approvers []model.Approver
}

type outcomeCall struct {
	requesterID string
	outcome     string
}

func (n *recordingNotifier) NotifyApprovers(_ context.Context, _ string, approvers []model.Approver, _ model.WorkflowInstance, step model.WorkflowStep) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approverCalls = append(n.approverCalls, approverCall{stepID: step.ID, approvers: approvers})
	return n.failWith
}

func (n *recordingNotifier) NotifyRequester(_ context.Context, _ string, requesterID string, _ model.WorkflowInstance, outcome string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomeCalls = append(n.outcomeCalls, outcomeCall{requesterID: requesterID, outcome: outcome})
	return n.failWith
}

func (n *recordingNotifier) approverNotifications() []approverCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]approverCall, len(n.approverCalls))
	copy(out, n.approverCalls)
	return out
}

func (n *recordingNotifier) outcomeNotifications() []outcomeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]outcomeCall, len(n.outcomeCalls))
	copy(out, n.outcomeCalls)
	return out
}
