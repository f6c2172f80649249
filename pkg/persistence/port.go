// Package persistence defines the narrow Persistence Port used by every
// other component: CRUD, filtered queries, and atomic upsert, with a
// closed failure taxonomy. Implementations back it with whatever record
// store fits the deployment; callers rely on nothing beyond this
// interface (spec §4.1).
package persistence

import (
	"context"
	"iter"

	"github.com/meridianai/controlplane/internal/controlerr"
)

// Record is any value persisted through the port. Implementations marshal
// it opaquely (e.g. JSON); the only fields the port itself inspects are
// those declared via Filter/Sort below.
type Record = map[string]any

// Op is a comparison operator usable in a Filter clause.
type Op string

const (
	OpEq  Op = "eq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Clause is a single equality/range predicate against a declared field.
type Clause struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of clauses. An empty Filter matches every record.
type Filter struct {
	Clauses []Clause
}

// Eq is a convenience constructor for an equality-only filter.
func Eq(field string, value any) Filter {
	return Filter{Clauses: []Clause{{Field: field, Op: OpEq, Value: value}}}
}

// And returns a filter combining the receiver with additional clauses.
func (f Filter) And(field string, op Op, value any) Filter {
	return Filter{Clauses: append(append([]Clause{}, f.Clauses...), Clause{Field: field, Op: op, Value: value})}
}

// SortDir is the direction of a Sort clause.
type SortDir int

const (
	Ascending SortDir = iota
	Descending
)

// Sort orders query results by a single declared field.
type Sort struct {
	Field string
	Dir   SortDir
}

// Port is the Persistence Port every component depends on. Single-record
// operations are atomic; multi-record operations are best-effort. No
// cross-collection transactions are assumed.
type Port interface {
	// Put creates or unconditionally overwrites a record.
	Put(ctx context.Context, collection, id string, value Record) error

	// Get returns a single record, or a NotFound *controlerr.Error.
	Get(ctx context.Context, collection, id string) (Record, error)

	// GetVersion returns a record along with its current version, for
	// callers that intend to Update it with an optimistic-concurrency
	// precondition.
	GetVersion(ctx context.Context, collection, id string) (Record, int, error)

	// Query returns records matching filter, ordered by sort, capped at limit
	// (0 means unbounded).
	Query(ctx context.Context, collection string, filter Filter, sort *Sort, limit int) ([]Record, error)

	// Update applies patch to the record at id if and only if it has not
	// changed since expectedVersion was read (0 means "must currently not
	// exist"); on mismatch it returns a Conflict *controlerr.Error. It
	// returns the record's new version on success.
	Update(ctx context.Context, collection, id string, expectedVersion int, patch Record) (newVersion int, err error)

	// Delete removes a record. Deleting a record that does not exist is a
	// no-op (idempotent).
	Delete(ctx context.Context, collection, id string) error

	// Stream lazily iterates records matching filter, for callers that want
	// to process a large collection without materializing it.
	Stream(ctx context.Context, collection string, filter Filter) iter.Seq2[Record, error]
}

// NotFound builds the standard NotFound error for a missing record.
func NotFound(collection, id string) error {
	return controlerr.Newf(controlerr.NotFound, "%s/%s not found", collection, id).WithField("collection", collection).WithField("id", id)
}

// ConflictErr builds the standard Conflict error for a failed precondition.
func ConflictErr(collection, id string) error {
	return controlerr.Newf(controlerr.Conflict, "%s/%s changed since last read", collection, id)
}
