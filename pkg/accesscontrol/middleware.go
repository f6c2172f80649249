package accesscontrol

import (
	"context"
	"net/http"
	"strings"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

func unauthorized() error {
	return controlerr.New(controlerr.Unauthorized, "authentication required")
}

func forbidden(permission string) error {
	return controlerr.Newf(controlerr.Forbidden, "missing permission %q", permission).WithField("permission", permission)
}

// Identity is the authenticated caller attached to a request's context by
// Authenticator.
type Identity struct {
	UserID   string
	TenantID string
	Role     Role
}

type identityCtxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the caller Identity attached by Authenticator,
// or false if the request carries none.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// Authenticator resolves the bearer token on an inbound request into an
// Identity, satisfying httpserver.AuthMiddleware (spec §4.10: "every
// authenticated request carries a bearer session token").
type Authenticator struct {
	svc *Service
}

// NewAuthenticator builds an Authenticator bound to svc.
func NewAuthenticator(svc *Service) *Authenticator {
	return &Authenticator{svc: svc}
}

// Middleware rejects requests without a valid session and attaches the
// resolved Identity to the request context for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpserver.WriteError(w, nil, unauthorized(), false)
			return
		}

		u, err := a.svc.Validate(r.Context(), token, "")
		if err != nil {
			httpserver.WriteError(w, nil, err, false)
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UserID: u.ID, TenantID: u.TenantID, Role: u.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission builds middleware enforcing that the authenticated
// caller's role carries permission, satisfying tenant.PermissionMiddleware
// (and the equivalent in every other domain package).
func (a *Authenticator) RequirePermission(permission string) func(http.Handler) http.Handler {
	perm := Permission(permission)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				httpserver.WriteError(w, nil, unauthorized(), false)
				return
			}
			if !HasPermission(id.Role, perm) {
				httpserver.WriteError(w, nil, forbidden(permission), false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// AuditAdapter implements every domain package's narrow Auditor interface
// (e.g. tenant.Auditor) by pulling the acting tenant/user from the request
// context and forwarding to an AuditWriter.
type AuditAdapter struct {
	writer *AuditWriter
}

// NewAuditAdapter wraps writer for use as a domain package's Auditor.
func NewAuditAdapter(writer *AuditWriter) *AuditAdapter {
	return &AuditAdapter{writer: writer}
}

// Record implements the Auditor interface shared across domain packages.
func (a *AuditAdapter) Record(ctx context.Context, action, subject, outcome string, detail map[string]any) {
	id, _ := IdentityFromContext(ctx)
	a.writer.Record(id.TenantID, id.UserID, action, subject, outcome, detail)
}
