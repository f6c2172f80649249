package insights

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// Store is the Persistence-Port-backed metric sample store. It satisfies
// taskqueue.MetricSink via Record, so the dispatcher can persist samples
// without this package's domain type ever being imported there.
type Store struct {
	db    persistence.Port
	ids   clock.IDGenerator
	clock clock.Clock
}

// NewStore builds a Store over the given Persistence Port.
func NewStore(db persistence.Port, ids clock.IDGenerator, c clock.Clock) *Store {
	return &Store{db: db, ids: ids, clock: c}
}

func toRecord(s MetricSample) (persistence.Record, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshalling metric sample: %w", err)
	}
	var rec persistence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling metric sample to record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec persistence.Record) (MetricSample, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return MetricSample{}, fmt.Errorf("marshalling record: %w", err)
	}
	var s MetricSample
	if err := json.Unmarshal(raw, &s); err != nil {
		return MetricSample{}, fmt.Errorf("unmarshalling record to metric sample: %w", err)
	}
	return s, nil
}

// Put persists a fully-formed sample, generating an id if absent.
func (s *Store) Put(ctx context.Context, sample MetricSample) error {
	if sample.ID == "" {
		sample.ID = s.ids.NewID()
	}
	rec, err := toRecord(sample)
	if err != nil {
		return err
	}
	return s.db.Put(ctx, Collection, sample.ID, rec)
}

// Record implements taskqueue.MetricSink: the dispatcher's per-event hook
// into persisted MetricSamples, stamped with the store's own clock so
// callers never need to pass a timestamp.
func (s *Store) Record(ctx context.Context, tenantID, agentKind, name string, value float64, labels map[string]string) {
	_ = s.Put(ctx, MetricSample{
		TenantID:  tenantID,
		AgentKind: agentKind,
		Name:      name,
		Value:     value,
		Labels:    labels,
		Timestamp: s.clock.Now(),
	})
}

// ListByTenant returns every sample for a tenant named metricName, most
// recent first, used to seed the rolling mean/stddev window.
func (s *Store) ListByTenant(ctx context.Context, tenantID, metricName string, limit int) ([]MetricSample, error) {
	filter := persistence.Eq("tenant_id", tenantID).And("name", persistence.OpEq, metricName)
	sortField := &persistence.Sort{Field: "timestamp", Dir: persistence.Descending}
	recs, err := s.db.Query(ctx, Collection, filter, sortField, limit)
	if err != nil {
		return nil, err
	}
	out := make([]MetricSample, 0, len(recs))
	for _, r := range recs {
		sample, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, nil
}
