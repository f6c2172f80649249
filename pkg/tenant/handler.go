package tenant

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

// Auditor records privileged operations before they return success (spec
// §4.3: "every privileged call emits an AuditEvent before returning
// success"). Implemented by pkg/accesscontrol; declared here as a narrow
// interface so this package never imports accesscontrol.
type Auditor interface {
	Record(ctx context.Context, action, subject, outcome string, detail map[string]any)
}

// PermissionMiddleware builds the chi middleware that enforces a permission
// tag on a route, supplied by the composition root (pkg/accesscontrol).
type PermissionMiddleware func(permission string) func(http.Handler) http.Handler

// Handler exposes the Tenant Store HTTP surface (spec §4.10/§6).
type Handler struct {
	svc    *Service
	audit  Auditor
	Routes func(require PermissionMiddleware) chi.Router
}

// NewHandler builds a Handler and its route table.
func NewHandler(svc *Service, audit Auditor) *Handler {
	h := &Handler{svc: svc, audit: audit}
	h.Routes = h.routes
	return h
}

func (h *Handler) routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.With(require("tenant.write")).Post("/", h.create)
	r.With(require("tenant.read")).Get("/", h.list)
	r.With(require("tenant.write")).Post("/reseller", h.createReseller)
	return r
}

type createTenantRequest struct {
	DisplayName   string         `json:"display_name" validate:"required"`
	PrimaryDomain string         `json:"primary_domain" validate:"required"`
	Tier          string         `json:"subscription_tier" validate:"omitempty,oneof=starter professional enterprise"`
	Branding      map[string]any `json:"branding"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.svc.CreateTenant(r.Context(), CreateTenantInput{
		DisplayName:   req.DisplayName,
		PrimaryDomain: req.PrimaryDomain,
		Tier:          Tier(req.Tier),
		Branding:      req.Branding,
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "tenant.create", req.PrimaryDomain, outcome, map[string]any{"display_name": req.DisplayName})
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusCreated, t)
}

func (h *Handler) createReseller(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.svc.CreateResellerPackage(r.Context(), CreateResellerPackageInput{
		DisplayName:   req.DisplayName,
		PrimaryDomain: req.PrimaryDomain,
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.audit.Record(r.Context(), "tenant.create_reseller", req.PrimaryDomain, outcome, nil)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusCreated, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, err.Error()), false)
		return
	}
	tenants, err := h.svc.List(r.Context(), status)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(tenants, params))
}
