package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// Store is the Persistence-Port-backed Tenant Store (spec §4.4).
type Store struct {
	db    persistence.Port
	ids   clock.IDGenerator
	clock clock.Clock
}

// NewStore builds a Store over the given Persistence Port.
func NewStore(db persistence.Port, ids clock.IDGenerator, c clock.Clock) *Store {
	return &Store{db: db, ids: ids, clock: c}
}

func toRecord(t Tenant) (persistence.Record, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshalling tenant: %w", err)
	}
	var rec persistence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling tenant to record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec persistence.Record) (Tenant, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Tenant{}, fmt.Errorf("marshalling record: %w", err)
	}
	var t Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tenant{}, fmt.Errorf("unmarshalling record to tenant: %w", err)
	}
	return t, nil
}

// Get returns a tenant by id.
func (s *Store) Get(ctx context.Context, id string) (Tenant, error) {
	rec, err := s.db.Get(ctx, Collection, id)
	if err != nil {
		return Tenant{}, err
	}
	return fromRecord(rec)
}

// GetByDomain returns the tenant whose primary_domain matches, or NotFound.
func (s *Store) GetByDomain(ctx context.Context, domain string) (Tenant, error) {
	results, err := s.db.Query(ctx, Collection, persistence.Eq("primary_domain", domain), nil, 1)
	if err != nil {
		return Tenant{}, err
	}
	if len(results) == 0 {
		return Tenant{}, persistence.NotFound(Collection, domain)
	}
	return fromRecord(results[0])
}

// List returns tenants, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status) ([]Tenant, error) {
	filter := persistence.Filter{}
	if status != "" {
		filter = persistence.Eq("status", string(status))
	}
	sort := &persistence.Sort{Field: "created_at", Dir: persistence.Ascending}
	recs, err := s.db.Query(ctx, Collection, filter, sort, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Tenant, 0, len(recs))
	for _, r := range recs {
		t, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// domainTaken reports whether an active tenant already owns this domain.
func (s *Store) domainTaken(ctx context.Context, domain string) (bool, error) {
	existing, err := s.GetByDomain(ctx, domain)
	if err != nil {
		if controlerr.Is(err, controlerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return existing.Active(), nil
}

// create inserts a new tenant record after checking domain uniqueness. If a
// later step in the caller's workflow fails, Rollback must be used to
// remove the partial record (spec §4.4: "do not leave dangling tenant rows").
func (s *Store) create(ctx context.Context, t Tenant) (Tenant, error) {
	taken, err := s.domainTaken(ctx, t.PrimaryDomain)
	if err != nil {
		return Tenant{}, err
	}
	if taken {
		return Tenant{}, controlerr.Newf(controlerr.Conflict, "primary_domain %q is already in use", t.PrimaryDomain).
			WithField("primary_domain", t.PrimaryDomain)
	}

	now := s.clock.Now()
	t.ID = s.ids.NewID()
	t.Status = StatusActive
	t.CreatedAt = now
	t.UpdatedAt = now

	rec, err := toRecord(t)
	if err != nil {
		return Tenant{}, err
	}
	if err := s.db.Put(ctx, Collection, t.ID, rec); err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// Rollback removes a partially created tenant. Best-effort: errors are
// swallowed by callers that are already unwinding a failure.
func (s *Store) Rollback(ctx context.Context, id string) error {
	return s.db.Delete(ctx, Collection, id)
}

// Update applies a patch to an existing tenant, bumping updated_at. It
// retries once on a concurrent-modification Conflict, which is sufficient
// for the low write-contention tenant-admin path; higher-contention
// components (e.g. taskqueue) use their own retry policy.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (Tenant, error) {
	_, version, err := s.db.GetVersion(ctx, Collection, id)
	if err != nil {
		return Tenant{}, err
	}

	patch["updated_at"] = s.clock.Now()
	if _, err := s.db.Update(ctx, Collection, id, version, patch); err != nil {
		return Tenant{}, err
	}
	return s.Get(ctx, id)
}

// Suspend marks a tenant suspended without deleting it (spec §3: "never
// deleted while referenced").
func (s *Store) Suspend(ctx context.Context, id string) (Tenant, error) {
	return s.Update(ctx, id, map[string]any{"status": string(StatusSuspended)})
}
