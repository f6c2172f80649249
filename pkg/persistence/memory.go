package persistence

import (
	"context"
	"iter"
	"maps"
	"sort"
	"sync"
)

// Memory is an in-process Port implementation guarded by a single
// RWMutex. It is the default backend for tests and for local/dev runs
// where a Postgres instance is not available.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
}

type entry struct {
	version int
	value   Record
}

// NewMemory creates an empty in-memory Port.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]entry)}
}

func (m *Memory) coll(name string) map[string]entry {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]entry)
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Put(_ context.Context, collection, id string, value Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	prev := c[id]
	c[id] = entry{version: prev.version + 1, value: cloneRecord(value)}
	return nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, NotFound(collection, id)
	}
	e, ok := c[id]
	if !ok {
		return nil, NotFound(collection, id)
	}
	return cloneRecord(e.value), nil
}

func (m *Memory) GetVersion(_ context.Context, collection, id string) (Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, 0, NotFound(collection, id)
	}
	e, ok := c[id]
	if !ok {
		return nil, 0, NotFound(collection, id)
	}
	return cloneRecord(e.value), e.version, nil
}

func (m *Memory) Query(_ context.Context, collection string, filter Filter, s *Sort, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, e := range m.collections[collection] {
		if matches(e.value, filter) {
			out = append(out, cloneRecord(e.value))
		}
	}

	if s != nil {
		sort.Slice(out, func(i, j int) bool {
			less := compare(out[i][s.Field], out[j][s.Field]) < 0
			if s.Dir == Descending {
				return !less && compare(out[i][s.Field], out[j][s.Field]) != 0
			}
			return less
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, collection, id string, expectedVersion int, patch Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	e, exists := c[id]
	if expectedVersion == 0 {
		if exists {
			return 0, ConflictErr(collection, id)
		}
		merged := cloneRecord(patch)
		c[id] = entry{version: 1, value: merged}
		return 1, nil
	}

	if !exists || e.version != expectedVersion {
		return 0, ConflictErr(collection, id)
	}

	merged := cloneRecord(e.value)
	maps.Copy(merged, patch)
	c[id] = entry{version: e.version + 1, value: merged}
	return e.version + 1, nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coll(collection), id)
	return nil
}

func (m *Memory) Stream(ctx context.Context, collection string, filter Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		records, err := m.Query(ctx, collection, filter, nil, 0)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func cloneRecord(r Record) Record {
	return maps.Clone(r)
}

func matches(value Record, filter Filter) bool {
	for _, c := range filter.Clauses {
		if !matchClause(value[c.Field], c) {
			return false
		}
	}
	return true
}

func matchClause(field any, c Clause) bool {
	cmp := compare(field, c.Value)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}
