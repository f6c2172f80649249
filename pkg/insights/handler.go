package insights

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/httpserver"
)

// PermissionMiddleware builds the chi middleware enforcing a permission tag
// on a route, supplied by the composition root (pkg/accesscontrol).
type PermissionMiddleware func(permission string) func(http.Handler) http.Handler

// defaultWindow is how far back Analyze/summary look when the caller
// doesn't specify a window.
const defaultWindow = 24 * time.Hour

// Handler exposes the Insights Engine's HTTP surface (spec §6).
type Handler struct {
	engine *Engine
}

// NewHandler builds a Handler.
func NewHandler(engine *Engine) *Handler { return &Handler{engine: engine} }

// Routes mounts the insights surface under the caller's chosen prefix.
func (h *Handler) Routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.With(require("insight.read")).Get("/summary", h.summary)
	r.With(require("insight.read")).Post("/analyze", h.analyze)
	return r
}

func windowSince(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("since_minutes"); raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			return time.Now().Add(-time.Duration(mins) * time.Minute)
		}
	}
	return time.Now().Add(-defaultWindow)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	result, err := h.engine.Analyze(r.Context(), tenantID, windowSince(r))
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, result.Summaries)
}

type analyzeRequest struct {
	TenantID     string `json:"tenant_id" validate:"required"`
	SinceMinutes int    `json:"since_minutes"`
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	since := time.Now().Add(-defaultWindow)
	if req.SinceMinutes > 0 {
		since = time.Now().Add(-time.Duration(req.SinceMinutes) * time.Minute)
	}

	result, err := h.engine.Analyze(r.Context(), req.TenantID, since)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}
