package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/httpserver"
)

// PermissionMiddleware builds the chi middleware enforcing a permission tag
// on a route, supplied by the composition root (pkg/accesscontrol).
type PermissionMiddleware func(permission string) func(http.Handler) http.Handler

// Handler exposes the Agent Framework's status/control HTTP surface
// (spec §6).
type Handler struct {
	registry *Registry
}

// NewHandler builds a Handler.
func NewHandler(registry *Registry) *Handler { return &Handler{registry: registry} }

// Routes mounts the agent surface under the caller's chosen prefix.
func (h *Handler) Routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.With(require("agent.control")).Get("/{tenantID}/{kind}", h.describe)
	r.With(require("agent.control")).Post("/{tenantID}/{kind}/control", h.control)
	return r
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	kind := Kind(chi.URLParam(r, "kind"))

	desc, ok := h.registry.Describe(tenantID, kind)
	if !ok {
		desc = h.registry.Ensure(tenantID, kind).Describe()
	}
	httpserver.Respond(w, http.StatusOK, desc)
}

type controlRequest struct {
	Op string `json:"op" validate:"required,oneof=pause resume reset"`
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	kind := Kind(chi.URLParam(r, "kind"))

	var req controlRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	h.registry.Ensure(tenantID, kind)
	h.registry.Control(tenantID, kind, ControlOp(req.Op))
	desc, _ := h.registry.Describe(tenantID, kind)
	httpserver.Respond(w, http.StatusOK, desc)
}
