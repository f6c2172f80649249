package cache

import (
	"context"
	"testing"
	"time"

	"github.com/meridianai/controlplane/pkg/clock"
)

func newTestCache(cfg Config) (*Cache, *clock.Fixed) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(cfg, clk, nil), clk
}

func TestPutGet_RoundTrips(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put(context.Background(), "tenant-1:greeting", []byte("hello"), time.Minute)

	v, ok := c.Get(context.Background(), "tenant-1:greeting")
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(v) != "hello" {
		t.Errorf("value = %q, want hello", v)
	}
}

func TestGet_Miss(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	_, ok := c.Get(context.Background(), "tenant-1:missing")
	if ok {
		t.Error("expected a miss for an unset key")
	}
}

func TestGet_LazyExpires(t *testing.T) {
	c, clk := newTestCache(DefaultConfig())
	c.Put(context.Background(), "tenant-1:k", []byte("v"), time.Second)

	clk.Advance(2 * time.Second)
	_, ok := c.Get(context.Background(), "tenant-1:k")
	if ok {
		t.Error("expected expired entry to be treated as a miss")
	}
}

func TestStats_TracksHitsAndMisses(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put(context.Background(), "tenant-1:k", []byte("v"), time.Minute)

	c.Get(context.Background(), "tenant-1:k")
	c.Get(context.Background(), "tenant-1:k")
	c.Get(context.Background(), "tenant-1:missing")

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.HitRate < 0.6 || stats.HitRate > 0.67 {
		t.Errorf("HitRate = %v, want ~0.667", stats.HitRate)
	}
}

func TestInvalidate_RemovesMatchingPrefixOnly(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put(context.Background(), "tenant-1:a", []byte("1"), time.Minute)
	c.Put(context.Background(), "tenant-1:b", []byte("2"), time.Minute)
	c.Put(context.Background(), "tenant-2:a", []byte("3"), time.Minute)

	removed := c.Invalidate(context.Background(), "tenant-1:")
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, ok := c.Get(context.Background(), "tenant-1:a"); ok {
		t.Error("expected tenant-1:a to be invalidated")
	}
	if _, ok := c.Get(context.Background(), "tenant-2:a"); !ok {
		t.Error("expected tenant-2:a to survive a tenant-1: prefix invalidation")
	}
}

func TestPut_EvictsWhenOverEntryBound(t *testing.T) {
	cfg := Config{MaxEntries: shardCount, MaxBytes: DefaultConfig().MaxBytes, SweepPeriod: time.Minute}
	c, clk := newTestCache(cfg)

	c.Put(context.Background(), "tenant-1:same-shard-a", []byte("1"), time.Hour)
	clk.Advance(time.Millisecond)
	c.Put(context.Background(), "tenant-1:same-shard-a-2", []byte("2"), time.Hour)

	stats := c.Stats()
	if stats.Size > cfg.MaxEntries {
		t.Errorf("Size = %d, want <= %d after eviction", stats.Size, cfg.MaxEntries)
	}
}

func TestSweepOnce_RemovesExpiredEntries(t *testing.T) {
	c, clk := newTestCache(DefaultConfig())
	c.Put(context.Background(), "tenant-1:k", []byte("v"), time.Second)
	clk.Advance(2 * time.Second)

	c.sweepOnce()

	if c.Stats().Size != 0 {
		t.Errorf("Size = %d, want 0 after sweep", c.Stats().Size)
	}
}
