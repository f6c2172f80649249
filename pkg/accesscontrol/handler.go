package accesscontrol

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

// Handler exposes the Access Control HTTP surface (spec §4.10/§6):
// login, logout, and user management.
type Handler struct {
	svc   *Service
	store *Store
	sso   *SSOAuthenticator // nil unless enterprise SSO is configured
}

// NewHandler builds a Handler. sso may be nil when enterprise SSO is not
// configured, in which case POST /auth/sso is not mounted.
func NewHandler(svc *Service, store *Store, sso *SSOAuthenticator) *Handler {
	return &Handler{svc: svc, store: store, sso: sso}
}

// PublicRoutes mounts the unauthenticated login endpoint(s); it is wired
// onto the top-level router rather than the authenticated /api/v1
// sub-router.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	if h.sso != nil {
		r.Post("/sso", h.ssoLogin)
		if h.sso.HandlesRedirectFlow() {
			r.Get("/sso/login", h.sso.HandleLogin)
			r.Get("/sso/callback", h.sso.HandleCallback)
		}
	}
	return r
}

// Routes mounts the authenticated user-management and session endpoints,
// matching the tenant.PermissionMiddleware-shaped pattern used throughout.
func (h *Handler) Routes(require func(permission string) func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/logout", h.logout)
	r.Post("/users/password", h.changePassword)
	r.With(require("user.manage")).Post("/users", h.createUser)
	r.With(require("user.manage")).Get("/users", h.listUsers)
	return r
}

type loginRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sess, err := h.svc.Authenticate(r.Context(), req.TenantID, req.Email, req.Password)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}

	httpserver.Respond(w, http.StatusOK, loginResponse{
		Token:     sess.ID, // plaintext token, see Service.Authenticate
		ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) ssoLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sso.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusOK, loginResponse{
		Token:     sess.ID,
		ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		httpserver.WriteError(w, nil, unauthorized(), false)
		return
	}
	if err := h.svc.Revoke(r.Context(), token); err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.RespondMessage(w, http.StatusOK, "session revoked")
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpserver.WriteError(w, nil, unauthorized(), false)
		return
	}

	u, err := h.svc.CreateUser(r.Context(), CreateUserInput{
		TenantID: id.TenantID,
		Email:    req.Email,
		Password: req.Password,
		Role:     Role(req.Role),
	})
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.Respond(w, http.StatusCreated, u.Public())
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpserver.WriteError(w, nil, unauthorized(), false)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), id.UserID, req.OldPassword, req.NewPassword); err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}
	httpserver.RespondMessage(w, http.StatusOK, "password changed, all other sessions invalidated")
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
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

	users, err := h.store.ListUsers(r.Context(), id.TenantID)
	if err != nil {
		httpserver.WriteError(w, nil, err, false)
		return
	}

	public := make([]Public, 0, len(users))
	for _, u := range users {
		public = append(public, u.Public())
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(public, params))
}
