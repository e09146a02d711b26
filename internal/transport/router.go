package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nubegest/approvals/internal/observability"
	"github.com/nubegest/approvals/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Engine         *workflow.Engine
	Logger         *zap.Logger
	Health         *observability.HealthChecker
	MetricsHandler http.Handler
	Metrics        func(http.Handler) http.Handler
	Tracing        func(http.Handler) http.Handler
	HandlerTimeout time.Duration
}

// NewRouter creates a chi.Router with the full middleware pipeline and route
// registrations. Health, readiness, and metrics endpoints bypass the identity
// middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	if deps.Metrics != nil {
		r.Use(deps.Metrics)
	}
	if deps.Tracing != nil {
		r.Use(deps.Tracing)
	}

	// Public routes.
	if deps.Health != nil {
		r.Get("/healthz", deps.Health.Liveness)
		r.Get("/readyz", deps.Health.Readiness)
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Identity-scoped routes.
	h := NewWorkflowHandler(deps.Engine)
	r.Group(func(r chi.Router) {
		r.Use(Identity)
		r.Use(HandlerTimeout(deps.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/api/workflows/evaluate", h.Evaluate)
		r.Post("/api/workflows/{workflowId}/start", h.Start)
		r.Post("/api/instances/{instanceId}/approve", h.Approve)
		r.Post("/api/instances/{instanceId}/reject", h.Reject)
		r.Get("/api/instances/{instanceId}", h.Get)
		r.Get("/api/instances/{instanceId}/history", h.History)
	})

	return r
}
