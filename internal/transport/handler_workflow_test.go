package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubegest/approvals/internal/roster"
	"github.com/nubegest/approvals/internal/transport"
	"github.com/nubegest/approvals/internal/workflow"
	"github.com/nubegest/approvals/model"
)

const testOrg = "org-1"

func newTestServer(t *testing.T) (*httptest.Server, *workflow.MemoryStore) {
	t.Helper()

	store := workflow.NewMemoryStore()
	store.AddDefinition(model.WorkflowDefinition{
		ID: 1, OrgID: testOrg,
		EntityType: workflow.EntityTypeOrdenCompra,
		Name:       "aprobacion ordenes de compra",
		Condition:  &model.Condition{Field: "monto", Op: model.OpGte, Value: 5000},
		Active:     true,
	})
	store.AddStep(model.WorkflowStep{
		ID: 10, WorkflowID: 1, Tipo: model.StepInicio, Nombre: "inicio", Siguiente: 11,
	})
	store.AddStep(model.WorkflowStep{
		ID: 11, WorkflowID: 1, Tipo: model.StepAprobacion, Nombre: "aprobacion",
		Approval: &model.ApprovalConfig{
			ApproverStrategy: model.StrategyRole,
			ApproverRole:     "gerente",
		},
		Aprobar: 12,
	})
	store.AddStep(model.WorkflowStep{
		ID: 12, WorkflowID: 1, Tipo: model.StepFin, Nombre: "fin",
		Terminal: &model.TerminalConfig{Action: model.ActionCambiarEstado, TargetState: "aprobada"},
	})
	store.PutOrder("po-1", workflow.MemOrder{OrgID: testOrg, State: "pendiente_aprobacion"})

	r := roster.NewMemoryRoster()
	r.AddRoleMember(testOrg, "gerente", model.Approver{ID: "u-gerente", Name: "Gerente"})

	engine := workflow.NewEngine(store, r,
		workflow.NewBindingRegistry(workflow.NewOrderBinding()),
		workflow.WithDefaultBranchID(1),
	)

	srv := httptest.NewServer(transport.NewRouter(transport.Dependencies{Engine: engine}))
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, actorID, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-Id", testOrg)
	req.Header.Set("X-Actor-Id", actorID)
	req.Header.Set("X-Actor-Roles", "empleado")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestEvaluateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/api/workflows/evaluate", "u-1",
		`{"entity_type":"orden_compra","entity_id":"po-1","entity_data":{"monto":8000}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["requires_approval"])
	assert.Equal(t, float64(1), body["workflow_id"])

	resp, body = doRequest(t, srv, http.MethodPost, "/api/workflows/evaluate", "u-1",
		`{"entity_type":"orden_compra","entity_id":"po-1","entity_data":{"monto":100}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["requires_approval"])
}

func TestStartApproveLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/api/workflows/1/start", "u-1",
		`{"entity_type":"orden_compra","entity_id":"po-1","snapshot":{"monto":8000}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instanceID, _ := body["id"].(string)
	require.NotEmpty(t, instanceID)
	assert.Equal(t, "en_progreso", body["estado"])

	// A non-approver is refused.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/instances/"+instanceID+"/approve", "u-1",
		`{"comment":"me lo apruebo yo"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doRequest(t, srv, http.MethodPost, "/api/instances/"+instanceID+"/approve", "u-gerente",
		`{"comment":"ok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "aprobado", body["estado"])

	order, ok := store.Order("po-1")
	require.True(t, ok)
	assert.Equal(t, "aprobada", order.State)

	// A second decision conflicts.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/instances/"+instanceID+"/reject", "u-gerente", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doRequest(t, srv, http.MethodGet, "/api/instances/"+instanceID, "u-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "aprobado", body["estado"])
}

func TestRejectWithReasonOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/api/workflows/1/start", "u-1",
		`{"entity_type":"orden_compra","entity_id":"po-1","snapshot":{"monto":8000}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instanceID := body["id"].(string)

	resp, body = doRequest(t, srv, http.MethodPost, "/api/instances/"+instanceID+"/reject", "u-gerente",
		`{"reason":"presupuesto agotado"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rechazado", body["estado"])

	outcome, ok := body["outcome"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "presupuesto agotado", outcome["comment"])

	order, ok := store.Order("po-1")
	require.True(t, ok)
	assert.Equal(t, workflow.OrderDraftState, order.State)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/api/workflows/1/start", "u-1",
		`{"entity_type":"orden_compra","entity_id":"po-1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instanceID := body["id"].(string)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/instances/"+instanceID+"/history", nil)
	require.NoError(t, err)
	req.Header.Set("X-Org-Id", testOrg)
	req.Header.Set("X-Actor-Id", "u-1")

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "iniciado", entries[0]["accion"])
}

func TestMissingIdentityHeadersRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/workflows/evaluate", "application/json",
		strings.NewReader(`{"entity_type":"orden_compra","entity_id":"po-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBadRequestBodies(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/workflows/evaluate", "u-1", `{"entity_type":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/workflows/abc/start", "u-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/workflows/evaluate", "u-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/instances/nope", "u-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
