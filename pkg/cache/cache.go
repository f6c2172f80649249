// Package cache implements the Cache (spec §4.5): a tenant-namespaced,
// TTL-and-size-bounded key/value store with hit/miss statistics and atomic
// prefix invalidation. It is sharded for fine-grained locking, grounded on
// the corpus's habit of sharding hot in-process maps by hashed key, and
// optionally mirrored to Redis for multi-instance deployments.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianai/controlplane/internal/telemetry"
	"github.com/meridianai/controlplane/pkg/clock"
)

const shardCount = 16

// entry is one cached value. size is the byte length of Value, tracked so
// the shard can enforce the configured total-bytes bound without
// re-measuring on every eviction pass.
type entry struct {
	value     []byte
	expiresAt time.Time
	size      int
	touchedAt time.Time
}

// Config bounds a Cache's storage.
type Config struct {
	MaxEntries  int
	MaxBytes    int64
	SweepPeriod time.Duration
}

// DefaultConfig returns reasonable bounds for a single-instance deployment.
func DefaultConfig() Config {
	return Config{MaxEntries: 100_000, MaxBytes: 256 << 20, SweepPeriod: 30 * time.Second}
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
	bytes   int64
}

// Cache is the Cache component. Keys MUST embed the owning tenant id as
// their first segment (spec §4.5); the cache itself does not enforce the
// convention, callers (pkg/taskqueue, pkg/agent) do.
type Cache struct {
	shards [shardCount]*shard
	cfg    Config
	clock  clock.Clock
	redis  *redis.Client // optional write-through mirror; nil disables it

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache. rdb may be nil, in which case the cache is purely
// in-process.
func New(cfg Config, clk clock.Clock, rdb *redis.Client) *Cache {
	c := &Cache{cfg: cfg, clock: clk, redis: rdb}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get looks up key, lazy-expiring it if its TTL has passed.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	s := c.shardFor(key)
	now := c.clock.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && now.After(e.expiresAt) {
		delete(s.entries, key)
		s.bytes -= int64(e.size)
		ok = false
	}
	if ok {
		e.touchedAt = now
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		telemetry.CacheMissesTotal.Inc()
		return nil, false
	}
	c.hits.Add(1)
	telemetry.CacheHitsTotal.Inc()
	return e.value, true
}

// Put stores value under key with the given TTL, evicting least-recently-used
// among expired-or-oldest entries if the shard is over its share of the
// configured bounds.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s := c.shardFor(key)
	now := c.clock.Now()
	e := &entry{value: value, expiresAt: now.Add(ttl), size: len(value), touchedAt: now}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.bytes -= int64(old.size)
	}
	s.entries[key] = e
	s.bytes += int64(e.size)
	c.evictLocked(s)
	s.mu.Unlock()

	if c.redis != nil {
		c.redis.Set(ctx, key, value, ttl)
	}
}

// maxEntriesPerShard and maxBytesPerShard divide the cache's configured
// bounds evenly; a shard only ever evicts its own entries, never reaches
// across shards, which keeps locking local.
func (c *Cache) maxEntriesPerShard() int { return max(1, c.cfg.MaxEntries/shardCount) }
func (c *Cache) maxBytesPerShard() int64 { return max(int64(1), c.cfg.MaxBytes/shardCount) }

// evictLocked assumes s.mu is held. It removes expired entries first, then
// the least-recently-touched survivors until the shard is back within
// bounds.
func (c *Cache) evictLocked(s *shard) {
	now := c.clock.Now()
	for len(s.entries) > c.maxEntriesPerShard() || s.bytes > c.maxBytesPerShard() {
		var victimKey string
		var victim *entry
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				victimKey, victim = k, e
				break
			}
			if victim == nil || e.touchedAt.Before(victim.touchedAt) {
				victimKey, victim = k, e
			}
		}
		if victim == nil {
			return
		}
		delete(s.entries, victimKey)
		s.bytes -= int64(victim.size)
	}
}

// Invalidate removes every key with the given prefix. It locks every shard
// before mutating any of them, so a concurrent Get observes either the full
// old set or the full new set, never a partial invalidation (spec §4.5).
func (c *Cache) Invalidate(ctx context.Context, prefix string) int {
	for _, s := range c.shards {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	removed := 0
	for _, s := range c.shards {
		for k, e := range s.entries {
			if hasPrefix(k, prefix) {
				delete(s.entries, k)
				s.bytes -= int64(e.size)
				removed++
			}
		}
	}
	return removed
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Stats is the snapshot returned by stats().
type Stats struct {
	Size     int     `json:"size"`
	MaxSize  int     `json:"max_size"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	Bytes    int64   `json:"bytes"`
	MaxBytes int64   `json:"max_bytes"`
}

// Stats reports aggregate cache effectiveness across all shards.
func (c *Cache) Stats() Stats {
	size := 0
	var bytes int64
	for _, s := range c.shards {
		s.mu.RLock()
		size += len(s.entries)
		bytes += s.bytes
		s.mu.RUnlock()
	}
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size: size, MaxSize: c.cfg.MaxEntries,
		Hits: hits, Misses: misses, HitRate: rate,
		Bytes: bytes, MaxBytes: c.cfg.MaxBytes,
	}
}

