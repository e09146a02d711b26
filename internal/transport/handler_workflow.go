package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nubegest/approvals/internal/workflow"
	"github.com/nubegest/approvals/model"
)

// WorkflowHandler serves the approval workflow endpoints.
type WorkflowHandler struct {
	engine *workflow.Engine
}

// NewWorkflowHandler creates a handler backed by the given engine.
func NewWorkflowHandler(engine *workflow.Engine) *WorkflowHandler {
	return &WorkflowHandler{engine: engine}
}

type evaluateRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EntityData map[string]any `json:"entity_data"`
}

type evaluateResponse struct {
	RequiresApproval bool   `json:"requires_approval"`
	WorkflowID       int64  `json:"workflow_id,omitempty"`
	WorkflowName     string `json:"workflow_name,omitempty"`
}

// Evaluate handles POST /api/workflows/evaluate. It reports whether a pending
// entity action matches an active workflow definition; it never creates an
// instance.
func (h *WorkflowHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var req evaluateRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		WriteError(w, model.NewBadRequestError("entity_type and entity_id are required"))
		return
	}

	def, err := h.engine.EvaluateRequiresApproval(r.Context(), rctx, req.EntityType, req.EntityID, req.EntityData)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := evaluateResponse{}
	if def != nil {
		resp.RequiresApproval = true
		resp.WorkflowID = def.ID
		resp.WorkflowName = def.Name
	}
	WriteJSON(w, http.StatusOK, resp)
}

type startRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Snapshot   map[string]any `json:"snapshot"`
}

// Start handles POST /api/workflows/{workflowId}/start.
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	workflowID, err := strconv.ParseInt(chi.URLParam(r, "workflowId"), 10, 64)
	if err != nil {
		WriteError(w, model.NewBadRequestError("workflowId must be an integer"))
		return
	}

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		WriteError(w, model.NewBadRequestError("entity_type and entity_id are required"))
		return
	}

	inst, err := h.engine.StartWorkflow(r.Context(), rctx, workflowID, req.EntityType, req.EntityID, req.Snapshot, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inst)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

// Approve handles POST /api/instances/{instanceId}/approve.
func (h *WorkflowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.Approve(r.Context(), rctx, instanceID, req.Comment)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

type rejectRequest struct {
	Reason string `json:"reason"`
	// Comment is accepted as an alias for reason.
	Comment string `json:"comment"`
}

func (r rejectRequest) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Comment
}

// Reject handles POST /api/instances/{instanceId}/reject.
func (h *WorkflowHandler) Reject(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.Reject(r.Context(), rctx, instanceID, req.reason())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Get handles GET /api/instances/{instanceId}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	inst, err := h.engine.GetInstance(r.Context(), rctx, instanceID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// History handles GET /api/instances/{instanceId}/history.
func (h *WorkflowHandler) History(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	instanceID := chi.URLParam(r, "instanceId")

	entries, err := h.engine.History(r.Context(), rctx, instanceID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// decodeBody decodes a JSON request body, rejecting unknown fields. An empty
// body is allowed and leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}
