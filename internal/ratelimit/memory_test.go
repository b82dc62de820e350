package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestMemoryLimiter(t *testing.T, cfg Config) (*MemoryLimiter, *time.Time) {
	t.Helper()
	l := NewMemoryLimiter(cfg)
	t.Cleanup(func() { l.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiter_AllowsBurst(t *testing.T) {
	l, _ := newTestMemoryLimiter(t, Config{PerMinute: 6, Burst: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
		if d.Remaining != 2-i {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}

	d, _ := l.Allow(ctx, "k")
	if d.Allowed {
		t.Fatal("request beyond burst was allowed")
	}
	// 6/min refills one token every 10s
	if d.RetryAfter != 10*time.Second {
		t.Errorf("RetryAfter = %v, want 10s", d.RetryAfter)
	}
	if d.Limit != 6 {
		t.Errorf("Limit = %d, want 6", d.Limit)
	}
}

func TestMemoryLimiter_Refills(t *testing.T) {
	l, now := newTestMemoryLimiter(t, Config{PerMinute: 6, Burst: 1})
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d, _ := l.Allow(ctx, "k"); d.Allowed {
		t.Fatal("second request allowed")
	}

	*now = now.Add(10 * time.Second)
	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("request after refill denied")
	}
}

func TestMemoryLimiter_RefillCappedAtBurst(t *testing.T) {
	l, now := newTestMemoryLimiter(t, Config{PerMinute: 60, Burst: 2})
	ctx := context.Background()

	l.Allow(ctx, "k")
	*now = now.Add(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if d, _ := l.Allow(ctx, "k"); d.Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d after long idle, want burst of 2", allowed)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestMemoryLimiter(t, Config{PerMinute: 1, Burst: 1})
	ctx := context.Background()

	if d, _ := l.Allow(ctx, RedeemKey("t", "a")); !d.Allowed {
		t.Fatal("a denied")
	}
	if d, _ := l.Allow(ctx, RedeemKey("t", "b")); !d.Allowed {
		t.Fatal("b denied")
	}
	if d, _ := l.Allow(ctx, RedeemKey("t", "a")); d.Allowed {
		t.Fatal("a allowed twice")
	}
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	l, _ := newTestMemoryLimiter(t, Config{})
	if l.cfg.PerMinute != 10 || l.cfg.Burst != 10 {
		t.Errorf("cfg = %+v, want 10/10", l.cfg)
	}
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l, now := newTestMemoryLimiter(t, Config{PerMinute: 10, Burst: 5})
	ctx := context.Background()

	l.Allow(ctx, "old")
	*now = now.Add(memoryIdleTimeout + time.Second)
	l.Allow(ctx, "fresh")

	l.cleanup()
	if got := l.size(); got != 1 {
		t.Errorf("size after cleanup = %d, want 1", got)
	}
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l, _ := newTestMemoryLimiter(t, Config{PerMinute: 1, Burst: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := l.Allow(ctx, "k"); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}

func TestMemoryLimiter_CloseTwice(t *testing.T) {
	l := NewMemoryLimiter(Config{})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRedeemKey(t *testing.T) {
	if got := RedeemKey("guild-1", "user-1"); got != "redeem:guild-1:user-1" {
		t.Errorf("RedeemKey = %q", got)
	}
}
