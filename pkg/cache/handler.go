package cache

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/httpserver"
)

// PermissionMiddleware builds the chi middleware enforcing a permission tag
// on a route, supplied by the composition root (pkg/accesscontrol).
type PermissionMiddleware func(permission string) func(http.Handler) http.Handler

// Handler exposes the Cache's HTTP surface (spec §6: GET /cache/stats,
// POST /cache/clear).
type Handler struct {
	cache *Cache
}

// NewHandler builds a Handler.
func NewHandler(c *Cache) *Handler { return &Handler{cache: c} }

// Routes mounts the cache surface, require binding "cache.clear" to the
// clear endpoint; stats is read-only and unguarded beyond authentication,
// which the caller's router already enforces upstream.
func (h *Handler) Routes(require PermissionMiddleware) chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.stats)
	r.With(require("cache.clear")).Post("/clear", h.clear)
	return r
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.cache.Stats())
}

type clearRequest struct {
	Prefix string `json:"prefix" validate:"required"`
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	removed := h.cache.Invalidate(r.Context(), req.Prefix)
	httpserver.Respond(w, http.StatusOK, map[string]any{"removed": removed})
}
