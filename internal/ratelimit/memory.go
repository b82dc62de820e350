package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	memoryCleanupInterval = 5 * time.Minute
	memoryIdleTimeout     = 10 * time.Minute
)

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter is a token bucket limiter held in process memory.
type MemoryLimiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a MemoryLimiter and starts its idle-entry cleanup loop.
// Call Close to stop it.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg.normalized(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(memoryCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops buckets that have not been touched recently. An idle bucket is
// full again, so dropping it does not change any decision.
func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > memoryIdleTimeout {
			delete(l.buckets, key)
		}
	}
}

// Allow takes one token from key's bucket.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	burst := float64(l.cfg.Burst)
	perSecond := float64(l.cfg.PerMinute) / 60.0

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, lastUpdate: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastUpdate).Seconds()
		b.tokens = math.Min(burst, b.tokens+elapsed*perSecond)
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Limit: l.cfg.PerMinute, Remaining: int(b.tokens)}, nil
	}

	wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	return Decision{Allowed: false, Limit: l.cfg.PerMinute, Remaining: 0, RetryAfter: wait}, nil
}

// Close stops the cleanup loop. It is safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
