package accesscontrol

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianai/controlplane/internal/controlerr"
)

const sessionTTL = 24 * time.Hour

// Service implements the Access Control operations (spec §4.3):
// create_user, authenticate, validate, revoke.
type Service struct {
	store   *Store
	limiter RateLimiter
	audit   *AuditWriter
	tokens  tokenCodec
	logger  *slog.Logger
}

// NewService builds a Service. secret keys the opaque session token hash.
func NewService(store *Store, limiter RateLimiter, audit *AuditWriter, secret string, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		audit:   audit,
		tokens:  newTokenCodec(secret),
		logger:  logger,
	}
}

// CreateUserInput is the input to CreateUser.
type CreateUserInput struct {
	TenantID string
	Email    string
	Password string
	Role     Role
}

// CreateUser validates the password policy and email uniqueness, hashes the
// password, and inserts the user record (spec §4.3).
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if !ValidateEmail(in.Email) {
		return User{}, controlerr.New(controlerr.ValidationError, "email is not a valid address").WithField("field", "email")
	}
	if !IsValidRole(in.Role) {
		return User{}, controlerr.Newf(controlerr.ValidationError, "role %q is not recognized", in.Role).WithField("field", "role")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return User{}, controlerr.New(controlerr.ValidationError, err.Error()).WithField("field", "password")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, controlerr.Wrap(controlerr.InternalError, err, "hashing password")
	}

	u, err := s.store.CreateUser(ctx, User{
		TenantID:     in.TenantID,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		return User{}, err
	}

	s.logger.Info("user created", "user_id", u.ID, "tenant_id", u.TenantID, "role", u.Role)
	if s.audit != nil {
		s.audit.Record(u.TenantID, u.ID, "user.create", u.ID, "success", nil)
	}
	return u, nil
}

// ChangePassword verifies oldPassword against the stored hash, then rotates
// to newPassword and bumps PasswordVersion. Bumping the version invalidates
// every session minted before the change: Validate compares a session's
// snapshotted PasswordVersion against the user's current one and rejects a
// mismatch, so existing bearer tokens stop working without needing to be
// individually revoked (spec: "password rotations bump a version counter
// invalidating prior sessions").
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(u.PasswordHash, oldPassword) {
		return controlerr.New(controlerr.Unauthorized, "invalid credentials")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return controlerr.New(controlerr.ValidationError, err.Error()).WithField("field", "new_password")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return controlerr.Wrap(controlerr.InternalError, err, "hashing password")
	}

	if _, err := s.store.UpdateUser(ctx, userID, map[string]any{
		"password_hash":    hash,
		"password_version": u.PasswordVersion + 1,
	}); err != nil {
		return err
	}

	s.logger.Info("password changed", "user_id", userID)
	if s.audit != nil {
		s.audit.Record(u.TenantID, userID, "auth.change_password", userID, "success", nil)
	}
	return nil
}

// Authenticate validates an email/password pair against rate limiting and
// mints a new opaque Session on success (spec §4.3).
func (s *Service) Authenticate(ctx context.Context, tenantID, email, password string) (Session, error) {
	limitKey := tenantID + ":" + email

	allowed, err := s.limiter.Allow(ctx, limitKey)
	if err != nil {
		return Session{}, controlerr.Wrap(controlerr.InternalError, err, "checking rate limit")
	}
	if !allowed {
		if s.audit != nil {
			s.audit.Record(tenantID, "", "auth.login", email, "rate_limited", nil)
		}
		return Session{}, controlerr.New(controlerr.RateLimited, "too many failed login attempts, try again later")
	}

	u, err := s.store.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		s.recordFailure(ctx, tenantID, email, limitKey)
		return Session{}, controlerr.New(controlerr.Unauthorized, "invalid credentials")
	}
	if !u.Active() {
		s.recordFailure(ctx, tenantID, email, limitKey)
		return Session{}, controlerr.New(controlerr.Unauthorized, "invalid credentials")
	}
	if !VerifyPassword(u.PasswordHash, password) {
		s.recordFailure(ctx, tenantID, email, limitKey)
		return Session{}, controlerr.New(controlerr.Unauthorized, "invalid credentials")
	}

	if err := s.limiter.Reset(ctx, limitKey); err != nil {
		s.logger.Warn("resetting rate limit after successful login", "error", err)
	}

	token, hash, err := s.tokens.mint()
	if err != nil {
		return Session{}, controlerr.Wrap(controlerr.InternalError, err, "minting session token")
	}

	now := time.Now()
	sess := Session{
		ID:              hash,
		TokenHash:       hash,
		UserID:          u.ID,
		TenantID:        u.TenantID,
		PasswordVersion: u.PasswordVersion,
		IssuedAt:        now,
		ExpiresAt:       now.Add(sessionTTL),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return Session{}, err
	}

	// The persisted Session carries only the hash; the returned copy's ID
	// is overwritten with the plaintext token so the caller can hand it to
	// the client. It is never persisted this way.
	sess.ID = token
	if s.audit != nil {
		s.audit.Record(u.TenantID, u.ID, "auth.login", u.ID, "success", nil)
	}
	return sess, nil
}

func (s *Service) recordFailure(ctx context.Context, tenantID, email, limitKey string) {
	if err := s.limiter.RecordFailure(ctx, limitKey); err != nil {
		s.logger.Warn("recording rate limit failure", "error", err)
	}
	if s.audit != nil {
		s.audit.Record(tenantID, "", "auth.login", email, "failure", nil)
	}
}

// Validate checks that token identifies a live session whose user's role
// carries perm, returning the session's user for subject-scoped checks
// (e.g. task.view.own) that the caller performs itself (spec §4.3).
func (s *Service) Validate(ctx context.Context, token string, perm Permission) (User, error) {
	hash := s.tokens.hash(token)
	sess, err := s.store.GetSession(ctx, hash)
	if err != nil {
		return User{}, controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}
	if !sess.Live(time.Now()) {
		return User{}, controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}

	u, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return User{}, controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}
	if !u.Active() {
		return User{}, controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}
	if sess.PasswordVersion != u.PasswordVersion {
		return User{}, controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}

	if perm != "" && !HasPermission(u.Role, perm) {
		return User{}, controlerr.Newf(controlerr.Forbidden, "role %q lacks permission %q", u.Role, perm).
			WithField("permission", string(perm))
	}
	return u, nil
}

// Revoke marks the session identified by token as revoked. Subsequent
// Validate calls for the same token fail with Unauthorized (spec §4.3, §5).
func (s *Service) Revoke(ctx context.Context, token string) error {
	hash := s.tokens.hash(token)
	sess, err := s.store.GetSession(ctx, hash)
	if err != nil {
		return controlerr.New(controlerr.Unauthorized, "invalid or expired session")
	}
	if err := s.store.RevokeSession(ctx, hash); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.Record(sess.TenantID, sess.UserID, "auth.logout", sess.UserID, "success", nil)
	}
	return nil
}
