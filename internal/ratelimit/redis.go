package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "keygate:"

// RedisLimiter shares rate limit state between replicas through Redis, using
// the GCRA implementation of redis_rate.
type RedisLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisLimiter creates a RedisLimiter over client. The limiter owns client
// and closes it on Close.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	cfg = cfg.normalized()
	return &RedisLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit:   limitFor(cfg),
	}
}

func limitFor(cfg Config) redis_rate.Limit {
	l := redis_rate.PerMinute(cfg.PerMinute)
	l.Burst = cfg.Burst
	return l
}

// Ping checks that Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Allow takes one unit from key's allowance.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, redisKeyPrefix+key, l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}

	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     l.limit.Rate,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
