package collab

import (
	"context"
	"net/http"

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

// Handler exposes the Collaboration Coordinator's HTTP surface (spec §6).
type Handler struct {
	svc   *Service
	audit Auditor
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, audit Auditor) *Handler {
	return &Handler{svc: svc, audit: audit}
}

// Routes mounts the collaboration surface under the caller's chosen prefix.
//
// delegate is spec'd as permission-checked against "collab.initiate or
// agent.submit"; every role carrying collab.initiate also carries
// agent.submit (pkg/accesscontrol's role table), so gating on the latter
// alone is equivalent without needing an OR-combinator over two
// middlewares.
func (h *Handler) Routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.With(require("collab.initiate")).Post("/", h.initiate)
	r.With(require("collab.initiate")).Post("/{id}/steps", h.addStep)
	r.With(require("agent.submit")).Post("/{id}/delegate", h.delegate)
	r.With(require("task.view.own")).Get("/{id}", h.status)
	r.With(require("task.view.any")).Get("/", h.list)
	return r
}

type initiateRequest struct {
	TenantID       string   `json:"tenant_id" validate:"required"`
	OrchestratorID string   `json:"orchestrator_id" validate:"required"`
	Participants   []string `json:"participants"`
	Goal           string   `json:"goal" validate:"required"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	collab, err := h.svc.Initiate(r.Context(), InitiateInput{
		TenantID:       req.TenantID,
		OrchestratorID: req.OrchestratorID,
		Participants:   req.Participants,
		Goal:           req.Goal,
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "collab.initiate", req.TenantID, outcome, nil)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusCreated, collab)
}

type addStepRequest struct {
	AgentKind   string         `json:"agent_kind" validate:"required"`
	Payload     map[string]any `json:"payload"`
	SubmittedBy string         `json:"submitted_by"`
}

func (h *Handler) addStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req addStepRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.svc.AddStep(r.Context(), id, req.AgentKind, req.Payload, req.SubmittedBy)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "collab.add_step", id, outcome, map[string]any{"agent_kind": req.AgentKind})
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, task)
}

type delegateRequest struct {
	TenantID    string         `json:"tenant_id" validate:"required"`
	ToAgentKind string         `json:"to_agent_kind" validate:"required"`
	Payload     map[string]any `json:"payload"`
	SubmittedBy string         `json:"submitted_by"`
}

func (h *Handler) delegate(w http.ResponseWriter, r *http.Request) {
	collabID := chi.URLParam(r, "id")
	var req delegateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.svc.Delegate(r.Context(), DelegateInput{
		TenantID:    req.TenantID,
		ToAgentKind: req.ToAgentKind,
		Payload:     req.Payload,
		SubmittedBy: req.SubmittedBy,
		CollabID:    collabID,
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "collab.delegate", collabID, outcome, map[string]any{"to_agent_kind": req.ToAgentKind})
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, task)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	collab, err := h.svc.Status(r.Context(), id)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, collab)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, err.Error()), false)
		return
	}
	collabs, err := h.svc.ListByTenant(r.Context(), tenantID)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(collabs, params))
}
