// Package clock is the Clock & ID port: every component that needs wall
// time, monotonic duration, or an opaque identifier takes a Clock and an
// IDGenerator explicitly rather than calling time.Now/uuid.New directly, so
// dispatcher/cache/insights tests can run on a fake clock deterministically.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock and monotonic time.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Since returns the monotonic duration elapsed since t.
	Since(t time.Time) time.Duration
}

// IDGenerator mints opaque identifiers.
type IDGenerator interface {
	NewID() string
}

// System is the production Clock, backed by the standard library.
type System struct{}

func (System) Now() time.Time                  { return time.Now() }
func (System) Since(t time.Time) time.Duration { return time.Since(t) }

// UUIDGenerator mints RFC 4122 v4 identifiers via google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.New().String() }

// Fixed is a test double with a manually advanceable wall clock.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a Fixed clock starting at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// SequentialIDs is a test double producing predictable, incrementing ids
// with a fixed prefix, useful for asserting on ids in table-driven tests.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDs creates a SequentialIDs generator.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

func (s *SequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%08d", s.prefix, s.next)
}
