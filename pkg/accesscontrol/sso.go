package accesscontrol

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/httpserver"
)

// ssoClaims are the OIDC claims extracted for enterprise SSO login.
// tenant_id must name a tenant already provisioned through the Tenant
// Store; SSO never creates tenants.
type ssoClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// SSOAuthenticator validates OIDC ID tokens from an enterprise identity
// provider and, on success, mints the same server-side Session a local
// login would (spec §4.6: "validate/revoke semantics are uniform
// regardless of how the user authenticated"). It supports both a direct
// bearer-ID-token exchange and, when redis and an oauth2.Config are
// supplied, the full browser redirect Authorization Code flow.
type SSOAuthenticator struct {
	verifier   *oidc.IDTokenVerifier
	oauth2Cfg  *oauth2.Config
	redis      *redis.Client
	store      *Store
	tokens     tokenCodec
	audit      *AuditWriter
	logger     *slog.Logger
	frontendTo string // redirect target after a successful callback
}

// NewSSOAuthenticator performs OIDC discovery against issuerURL. It returns
// an error if discovery fails; callers should treat a configured-but-
// unreachable issuer as a startup failure, not silently disable SSO.
// rdb and frontendRedirectURL may be nil/empty to support only the direct
// bearer-ID-token path (no browser redirect flow).
func NewSSOAuthenticator(ctx context.Context, issuerURL, clientID, clientSecret, callbackURL, frontendRedirectURL string, rdb *redis.Client, store *Store, secret string, audit *AuditWriter, logger *slog.Logger) (*SSOAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	var oauth2Cfg *oauth2.Config
	if clientSecret != "" && callbackURL != "" {
		oauth2Cfg = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		}
	}

	return &SSOAuthenticator{
		verifier:   verifier,
		oauth2Cfg:  oauth2Cfg,
		redis:      rdb,
		store:      store,
		tokens:     newTokenCodec(secret),
		audit:      audit,
		logger:     logger,
		frontendTo: frontendRedirectURL,
	}, nil
}

// Authenticate validates a raw bearer ID token from the identity provider,
// resolves it to a provisioned user, and mints a new opaque Session.
// Only tenant_admin and super_admin roles may authenticate via SSO (spec
// §4.6); any other role in the claims is rejected.
func (a *SSOAuthenticator) Authenticate(ctx context.Context, bearerIDToken string) (Session, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(bearerIDToken, "Bearer "))
	if raw == "" {
		return Session{}, controlerr.New(controlerr.Unauthorized, "empty bearer token")
	}

	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return Session{}, controlerr.Wrap(controlerr.Unauthorized, err, "verifying SSO token")
	}

	var claims ssoClaims
	if err := idToken.Claims(&claims); err != nil {
		return Session{}, controlerr.Wrap(controlerr.Unauthorized, err, "extracting SSO claims")
	}
	if claims.Subject == "" || claims.Email == "" || claims.TenantID == "" {
		return Session{}, controlerr.New(controlerr.Unauthorized, "SSO token missing required claims")
	}
	role := Role(claims.Role)
	if role != RoleTenantAdmin && role != RoleSuperAdmin {
		return Session{}, controlerr.New(controlerr.Forbidden, "SSO login is restricted to tenant_admin and super_admin")
	}

	u, err := a.store.GetUserByEmail(ctx, claims.TenantID, claims.Email)
	if err != nil {
		return Session{}, controlerr.New(controlerr.Unauthorized, "no provisioned user for this identity")
	}
	if !u.Active() {
		return Session{}, controlerr.New(controlerr.Unauthorized, "user is disabled")
	}

	token, hash, err := a.tokens.mint()
	if err != nil {
		return Session{}, controlerr.Wrap(controlerr.InternalError, err, "minting session token")
	}

	now := time.Now()
	sess := Session{
		ID:        hash,
		TokenHash: hash,
		UserID:    u.ID,
		TenantID:  u.TenantID,
		IssuedAt:  now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := a.store.PutSession(ctx, sess); err != nil {
		return Session{}, err
	}

	sess.ID = token
	if a.audit != nil {
		a.audit.Record(u.TenantID, u.ID, "auth.sso_login", u.ID, "success", map[string]any{"idp_subject": claims.Subject})
	}
	return sess, nil
}

// HandlesRedirectFlow reports whether the browser Authorization Code flow
// is available (requires Redis and a callback URL alongside the issuer).
func (a *SSOAuthenticator) HandlesRedirectFlow() bool {
	return a.oauth2Cfg != nil && a.redis != nil
}

const ssoStateTTL = 10 * time.Minute

// HandleLogin redirects the browser to the identity provider, storing a
// random CSRF state in Redis (grounded on the corpus's OIDCFlowHandler).
func (a *SSOAuthenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		httpserver.WriteError(w, a.logger, controlerr.Wrap(controlerr.InternalError, err, "generating SSO state"), false)
		return
	}
	if err := a.redis.Set(r.Context(), "sso_state:"+state, "1", ssoStateTTL).Err(); err != nil {
		httpserver.WriteError(w, a.logger, controlerr.Wrap(controlerr.InternalError, err, "storing SSO state"), false)
		return
	}
	http.Redirect(w, r, a.oauth2Cfg.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback completes the Authorization Code exchange, verifies the
// returned ID token, mints a Session, and redirects the browser back to the
// frontend with the token in the query string.
func (a *SSOAuthenticator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	if state == "" {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, "missing state parameter"), false)
		return
	}
	if _, err := a.redis.GetDel(ctx, "sso_state:"+state).Result(); err != nil {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.Unauthorized, "invalid or expired state"), false)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		a.logger.Warn("sso: identity provider returned error", "error", errParam, "description", r.URL.Query().Get("error_description"))
		httpserver.WriteError(w, nil, controlerr.Newf(controlerr.Unauthorized, "authentication failed: %s", errParam), false)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.ValidationError, "missing code parameter"), false)
		return
	}

	oauth2Token, err := a.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		httpserver.WriteError(w, a.logger, controlerr.Wrap(controlerr.Unauthorized, err, "exchanging authorization code"), false)
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		httpserver.WriteError(w, nil, controlerr.New(controlerr.Unauthorized, "identity provider response missing id_token"), false)
		return
	}

	sess, err := a.Authenticate(ctx, rawIDToken)
	if err != nil {
		httpserver.WriteError(w, a.logger, err, false)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s?token=%s", a.frontendTo, sess.ID), http.StatusFound)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
