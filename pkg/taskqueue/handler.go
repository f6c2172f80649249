package taskqueue

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

// Auditor records privileged operations before they return success,
// implemented by pkg/accesscontrol; declared here as a narrow interface so
// this package never imports accesscontrol.
type Auditor interface {
	Record(ctx context.Context, action, subject, outcome string, detail map[string]any)
}

// PermissionMiddleware builds the chi middleware enforcing a permission tag
// on a route, supplied by the composition root (pkg/accesscontrol).
type PermissionMiddleware func(permission string) func(http.Handler) http.Handler

// Handler exposes the Task Queue's HTTP surface (spec §6).
type Handler struct {
	svc   *Service
	audit Auditor
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, audit Auditor) *Handler {
	return &Handler{svc: svc, audit: audit}
}

// Routes mounts the task surface under the caller's chosen prefix.
func (h *Handler) Routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.With(require("agent.submit")).Post("/", h.submit)
	r.With(require("task.view.own")).Get("/{id}", h.status)
	r.With(require("task.view.any")).Get("/", h.list)
	r.With(require("agent.submit")).Post("/{id}/cancel", h.cancel)
	return r
}

type submitRequest struct {
	TenantID  string         `json:"tenant_id" validate:"required"`
	AgentKind string         `json:"agent_kind" validate:"required"`
	Payload   map[string]any `json:"payload"`
	Priority  int            `json:"priority"`
	Deadline  *time.Time     `json:"deadline,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.svc.Submit(r.Context(), SubmitInput{
		TenantID:  req.TenantID,
		AgentKind: req.AgentKind,
		Payload:   req.Payload,
		Priority:  req.Priority,
		Deadline:  req.Deadline,
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "task.submit", req.AgentKind, outcome, map[string]any{"tenant_id": req.TenantID})
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, task)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.svc.Status(r.Context(), id)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, task)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, err.Error()), false)
		return
	}
	tasks, err := h.svc.ListByTenant(r.Context(), tenantID)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(tasks, params))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.svc.Cancel(r.Context(), id)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "task.cancel", id, outcome, nil)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, task)
}
