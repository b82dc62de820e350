// Package ratelimit throttles key redemption attempts per caller so that codes
// cannot be brute forced. Two backends share the Limiter interface: an in-process
// token bucket for single-instance deployments and a Redis GCRA limiter for
// deployments running several replicas.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// Config holds the shared limiter settings.
type Config struct {
	// PerMinute is the sustained number of attempts allowed per minute.
	PerMinute int
	// Burst is the number of attempts allowed back to back.
	Burst int
}

func (c Config) normalized() Config {
	if c.PerMinute <= 0 {
		c.PerMinute = 10
	}
	if c.Burst <= 0 {
		c.Burst = c.PerMinute
	}
	return c
}

// RedeemKey derives the limiter key for a redemption attempt.
func RedeemKey(tenantID, identity string) string {
	return "redeem:" + tenantID + ":" + identity
}
