package accesscontrol

import (
	"context"
	"testing"
	"time"
)

func TestInProcessRateLimiter_AllowsUntilThreshold(t *testing.T) {
	rl := NewInProcessRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "alice")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("Allow() on attempt %d = false, want true", i+1)
		}
		if err := rl.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}

	allowed, err := rl.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("Allow() after reaching threshold = true, want false")
	}
}

func TestInProcessRateLimiter_ResetClearsCounter(t *testing.T) {
	rl := NewInProcessRateLimiter(1, time.Minute)
	ctx := context.Background()

	if err := rl.RecordFailure(ctx, "alice"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if allowed, _ := rl.Allow(ctx, "alice"); allowed {
		t.Fatal("Allow() before reset = true, want false")
	}

	if err := rl.Reset(ctx, "alice"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if allowed, _ := rl.Allow(ctx, "alice"); !allowed {
		t.Error("Allow() after reset = false, want true")
	}
}

func TestInProcessRateLimiter_IndependentKeys(t *testing.T) {
	rl := NewInProcessRateLimiter(1, time.Minute)
	ctx := context.Background()

	if err := rl.RecordFailure(ctx, "alice"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if allowed, _ := rl.Allow(ctx, "bob"); !allowed {
		t.Error("Allow() for unrelated key = false, want true")
	}
}
