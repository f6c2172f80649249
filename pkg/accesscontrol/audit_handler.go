package accesscontrol

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

// AuditHandler exposes the audit trail's read surface (spec §3, §6:
// "every privileged call emits an AuditEvent", "GET /audit-log").
type AuditHandler struct {
	writer *AuditWriter
}

// NewAuditHandler builds an AuditHandler.
func NewAuditHandler(writer *AuditWriter) *AuditHandler {
	return &AuditHandler{writer: writer}
}

// Routes mounts the audit surface under the caller's chosen prefix.
func (h *AuditHandler) Routes(require func(permission string) func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.With(require(string(PermAuditRead))).Get("/", h.list)
	return r
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpserver.WriteError(w, nil, unauthorized(), false)
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, err.Error()), false)
		return
	}
	events, err := h.writer.ListByTenant(r.Context(), id.TenantID)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(events, params))
}
