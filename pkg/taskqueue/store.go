package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// Store is the Persistence-Port-backed task store.
type Store struct {
	db    persistence.Port
	ids   clock.IDGenerator
	clock clock.Clock
}

// NewStore builds a Store over the given Persistence Port.
func NewStore(db persistence.Port, ids clock.IDGenerator, c clock.Clock) *Store {
	return &Store{db: db, ids: ids, clock: c}
}

func toRecord(t Task) (persistence.Record, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshalling task: %w", err)
	}
	var rec persistence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling task to record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec persistence.Record) (Task, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Task{}, fmt.Errorf("marshalling record: %w", err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshalling record to task: %w", err)
	}
	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	rec, err := s.db.Get(ctx, Collection, id)
	if err != nil {
		return Task{}, err
	}
	return fromRecord(rec)
}

// Submit persists a new task in the queued state.
func (s *Store) Submit(ctx context.Context, t Task) (Task, error) {
	now := s.clock.Now()
	t.ID = s.ids.NewID()
	t.State = StateQueued
	t.CreatedAt = now
	t.UpdatedAt = now

	rec, err := toRecord(t)
	if err != nil {
		return Task{}, err
	}
	if err := s.db.Put(ctx, Collection, t.ID, rec); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Update applies patch to an existing task, bumping updated_at, retrying
// once on a concurrent-modification Conflict since the dispatcher and a
// cancellation request can race on the same task.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (Task, error) {
	patch["updated_at"] = s.clock.Now()
	for attempt := 0; attempt < 2; attempt++ {
		_, version, err := s.db.GetVersion(ctx, Collection, id)
		if err != nil {
			return Task{}, err
		}
		if _, err := s.db.Update(ctx, Collection, id, version, patch); err != nil {
			if attempt == 0 {
				continue
			}
			return Task{}, err
		}
		return s.Get(ctx, id)
	}
	return s.Get(ctx, id)
}

// QueuedFor returns every queued, ready-to-run task for (tenantID,
// agentKind), ordered by (−priority, created_at) — the priority FIFO order
// spec §4.6 requires. The Persistence Port only orders by a single
// declared field and compares stored (JSON-roundtripped) values, so the
// secondary sort key and the "ready" (NextAttemptAt not in the future)
// filter are both applied in memory, after fromRecord has reparsed the
// timestamps back into time.Time.
func (s *Store) QueuedFor(ctx context.Context, tenantID, agentKind string) ([]Task, error) {
	filter := persistence.Eq("tenant_id", tenantID).
		And("agent_kind", persistence.OpEq, agentKind).
		And("state", persistence.OpEq, string(StateQueued))
	recs, err := s.db.Query(ctx, Collection, filter, nil, 0)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		t, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		if t.NextAttemptAt != nil && t.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RunningCount returns the number of tasks currently running for
// (tenantID, agentKind), used to enforce concurrent_tasks_per_agent.
func (s *Store) RunningCount(ctx context.Context, tenantID, agentKind string) (int, error) {
	filter := persistence.Eq("tenant_id", tenantID).
		And("agent_kind", persistence.OpEq, agentKind).
		And("state", persistence.OpEq, string(StateRunning))
	recs, err := s.db.Query(ctx, Collection, filter, nil, 0)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// CountSince returns how many tasks a tenant has submitted at or after
// cutoff, used to enforce tasks_per_day. The comparison happens after
// fromRecord has reparsed created_at back into a time.Time, rather than
// through a Filter range clause, since the Port compares stored
// (JSON-roundtripped) values and a bare range clause on a time field isn't
// reliable across backends for this record shape.
func (s *Store) CountSince(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	recs, err := s.db.Query(ctx, Collection, persistence.Eq("tenant_id", tenantID), nil, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range recs {
		t, err := fromRecord(r)
		if err != nil {
			return 0, err
		}
		if !t.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// ListByTenant returns every task for a tenant, most recent first, for
// status polling.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]Task, error) {
	sortField := &persistence.Sort{Field: "created_at", Dir: persistence.Descending}
	recs, err := s.db.Query(ctx, Collection, persistence.Eq("tenant_id", tenantID), sortField, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		t, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
