package cache

import (
	"context"
	"time"
)

// RunSweeper runs a background sweep at cfg.SweepPeriod, removing expired
// entries proactively so cold keys don't linger until a reader happens to
// touch them (spec §4.5: "a background sweep runs at a fixed cadence").
// It returns when ctx is cancelled.
func (c *Cache) RunSweeper(ctx context.Context) {
	period := c.cfg.SweepPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Cache) sweepOnce() {
	now := c.clock.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
				s.bytes -= int64(e.size)
			}
		}
		s.mu.Unlock()
	}
}
