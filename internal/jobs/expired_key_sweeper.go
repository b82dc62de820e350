// Package jobs contains keygate's background jobs.
//
// expired_key_sweeper.go implements ExpiredKeySweeper, which periodically deletes
// keys that expired without being redeemed. Redeemed keys are never swept: they
// record who holds an entitlement. Redeeming a swept key reports not found rather
// than expired. The job is off by default (jobs.expired_key_sweep.enabled).
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/telemetry"
)

// ExpiredKeyStore deletes unused keys. *repositories.KeyRepository implements it.
type ExpiredKeyStore interface {
	DeleteExpiredUnused(ctx context.Context, before time.Time) (int64, error)
}

// ExpiredKeySweeper periodically removes unused keys whose expiry lies further
// in the past than the retention window.
type ExpiredKeySweeper struct {
	keys      ExpiredKeyStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewExpiredKeySweeper creates a new ExpiredKeySweeper.
// A non-positive interval defaults to 24h.
func NewExpiredKeySweeper(keys ExpiredKeyStore, cfg *config.ExpiredKeySweepConfig) *ExpiredKeySweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := cfg.Retention
	if retention < 0 {
		retention = 0
	}
	return &ExpiredKeySweeper{
		keys:      keys,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled or Stop is called. It blocks; run it in its own goroutine.
func (s *ExpiredKeySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("expired key sweeper started", "interval", s.interval, "retention", s.retention)

	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			slog.Info("expired key sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("expired key sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (s *ExpiredKeySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// runSweep deletes one batch of stale keys and returns how many were removed.
// Failures are logged; the next tick retries.
func (s *ExpiredKeySweeper) runSweep(ctx context.Context) int64 {
	cutoff := s.now().UTC().Add(-s.retention)

	deleted, err := s.keys.DeleteExpiredUnused(ctx, cutoff)
	if err != nil {
		slog.Error("expired key sweep failed", "cutoff", cutoff, "error", err)
		return 0
	}

	if deleted > 0 {
		telemetry.KeysSweptTotal.Add(float64(deleted))
		slog.Info("expired keys swept", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}
