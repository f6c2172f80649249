package accesscontrol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// Store is the Persistence-Port-backed store for users and sessions
// (spec §4.3).
type Store struct {
	db    persistence.Port
	ids   clock.IDGenerator
	clock clock.Clock
}

// NewStore builds a Store over the given Persistence Port.
func NewStore(db persistence.Port, ids clock.IDGenerator, c clock.Clock) *Store {
	return &Store{db: db, ids: ids, clock: c}
}

func toRecord(v any) (persistence.Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling: %w", err)
	}
	var rec persistence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling to record: %w", err)
	}
	return rec, nil
}

func userFromRecord(rec persistence.Record) (User, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return User{}, fmt.Errorf("marshalling record: %w", err)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("unmarshalling record to user: %w", err)
	}
	return u, nil
}

func sessionFromRecord(rec persistence.Record) (Session, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Session{}, fmt.Errorf("marshalling record: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("unmarshalling record to session: %w", err)
	}
	return s, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	rec, err := s.db.Get(ctx, UsersCollection, id)
	if err != nil {
		return User{}, err
	}
	return userFromRecord(rec)
}

// GetUserByEmail returns the user within tenantID matching email, or
// NotFound. Email uniqueness is scoped per tenant (spec §4.3).
func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (User, error) {
	filter := persistence.Eq("tenant_id", tenantID).And("email", persistence.OpEq, email)
	results, err := s.db.Query(ctx, UsersCollection, filter, nil, 1)
	if err != nil {
		return User{}, err
	}
	if len(results) == 0 {
		return User{}, persistence.NotFound(UsersCollection, email)
	}
	return userFromRecord(results[0])
}

// ListUsers returns all users belonging to tenantID.
func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]User, error) {
	sort := &persistence.Sort{Field: "created_at", Dir: persistence.Ascending}
	recs, err := s.db.Query(ctx, UsersCollection, persistence.Eq("tenant_id", tenantID), sort, 0)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(recs))
	for _, r := range recs {
		u, err := userFromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) emailTaken(ctx context.Context, tenantID, email string) (bool, error) {
	_, err := s.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		if controlerr.Is(err, controlerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateUser inserts a new user record after checking per-tenant email
// uniqueness. The caller is expected to have already validated and hashed
// the password.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	taken, err := s.emailTaken(ctx, u.TenantID, u.Email)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, controlerr.Newf(controlerr.Conflict, "email %q is already in use", u.Email).
			WithField("email", u.Email)
	}

	now := s.clock.Now()
	u.ID = s.ids.NewID()
	u.Status = UserStatusActive
	u.PasswordVersion = 1
	u.CreatedAt = now
	u.UpdatedAt = now

	rec, err := toRecord(u)
	if err != nil {
		return User{}, err
	}
	if err := s.db.Put(ctx, UsersCollection, u.ID, rec); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdateUser applies a patch to an existing user, bumping updated_at.
func (s *Store) UpdateUser(ctx context.Context, id string, patch map[string]any) (User, error) {
	_, version, err := s.db.GetVersion(ctx, UsersCollection, id)
	if err != nil {
		return User{}, err
	}
	patch["updated_at"] = s.clock.Now()
	if _, err := s.db.Update(ctx, UsersCollection, id, version, patch); err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

// PutSession persists a freshly minted session.
func (s *Store) PutSession(ctx context.Context, sess Session) error {
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}
	return s.db.Put(ctx, SessionsCollection, sess.ID, rec)
}

// GetSession looks up a session by its token hash.
func (s *Store) GetSession(ctx context.Context, tokenHash string) (Session, error) {
	rec, err := s.db.Get(ctx, SessionsCollection, tokenHash)
	if err != nil {
		return Session{}, err
	}
	return sessionFromRecord(rec)
}

// RevokeSession marks a session revoked so subsequent validations fail
// (spec §4.3: "revoke takes effect for subsequent validate calls").
func (s *Store) RevokeSession(ctx context.Context, tokenHash string) error {
	_, version, err := s.db.GetVersion(ctx, SessionsCollection, tokenHash)
	if err != nil {
		return err
	}
	_, err = s.db.Update(ctx, SessionsCollection, tokenHash, version, persistence.Record{"revoked": true})
	return err
}
