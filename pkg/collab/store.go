package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// Store is the Persistence-Port-backed collaboration store.
type Store struct {
	db    persistence.Port
	ids   clock.IDGenerator
	clock clock.Clock
}

// NewStore builds a Store over the given Persistence Port.
func NewStore(db persistence.Port, ids clock.IDGenerator, c clock.Clock) *Store {
	return &Store{db: db, ids: ids, clock: c}
}

func toRecord(c Collaboration) (persistence.Record, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling collaboration: %w", err)
	}
	var rec persistence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling collaboration to record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec persistence.Record) (Collaboration, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Collaboration{}, fmt.Errorf("marshalling record: %w", err)
	}
	var c Collaboration
	if err := json.Unmarshal(raw, &c); err != nil {
		return Collaboration{}, fmt.Errorf("unmarshalling record to collaboration: %w", err)
	}
	return c, nil
}

// Get returns a collaboration by id.
func (s *Store) Get(ctx context.Context, id string) (Collaboration, error) {
	rec, err := s.db.Get(ctx, Collection, id)
	if err != nil {
		return Collaboration{}, err
	}
	return fromRecord(rec)
}

// Create persists a new collaboration with an empty task_flow.
func (s *Store) Create(ctx context.Context, c Collaboration) (Collaboration, error) {
	now := s.clock.Now()
	c.ID = s.ids.NewID()
	c.Status = StatusPending
	c.TaskFlow = []Step{}
	c.CreatedAt = now
	c.UpdatedAt = now

	rec, err := toRecord(c)
	if err != nil {
		return Collaboration{}, err
	}
	if err := s.db.Put(ctx, Collection, c.ID, rec); err != nil {
		return Collaboration{}, err
	}
	return c, nil
}

// AppendStep appends a step to an existing collaboration's task_flow,
// retrying once on a concurrent-modification Conflict since multiple
// add_step calls against the same collaboration can race.
func (s *Store) AppendStep(ctx context.Context, id string, step Step) (Collaboration, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c, version, err := s.getVersion(ctx, id)
		if err != nil {
			return Collaboration{}, err
		}
		c.TaskFlow = append(c.TaskFlow, step)
		c.UpdatedAt = s.clock.Now()

		rec, err := toRecord(c)
		if err != nil {
			return Collaboration{}, err
		}
		if _, err := s.db.Update(ctx, Collection, id, version, rec); err != nil {
			if attempt == 0 {
				continue
			}
			return Collaboration{}, err
		}
		return c, nil
	}
	return s.Get(ctx, id)
}

// UpdateStatus persists a newly-computed status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (Collaboration, error) {
	_, version, err := s.getVersion(ctx, id)
	if err != nil {
		return Collaboration{}, err
	}
	_, err = s.db.Update(ctx, Collection, id, version, persistence.Record{
		"status":     string(status),
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return Collaboration{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) getVersion(ctx context.Context, id string) (Collaboration, int, error) {
	rec, version, err := s.db.GetVersion(ctx, Collection, id)
	if err != nil {
		return Collaboration{}, 0, err
	}
	c, err := fromRecord(rec)
	return c, version, err
}

// ListByTenant returns every collaboration for a tenant, most recent first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]Collaboration, error) {
	sortField := &persistence.Sort{Field: "created_at", Dir: persistence.Descending}
	recs, err := s.db.Query(ctx, Collection, persistence.Eq("tenant_id", tenantID), sortField, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Collaboration, 0, len(recs))
	for _, r := range recs {
		c, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
