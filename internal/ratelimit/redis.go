package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"openway.dev/internal/obs"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter is a fixed-window counter shared by every process pointed at
// the same Redis. Errors fall back to Fallback.
type RedisLimiter struct {
	Client   redis.Scripter
	Rate     Rate
	Prefix   string
	Timeout  time.Duration
	Fallback Limiter
}

func NewRedis(client redis.Scripter, r Rate) *RedisLimiter {
	if r.Limit <= 0 {
		r.Limit = 1
	}
	if r.Window <= 0 {
		r.Window = time.Second
	}
	return &RedisLimiter{
		Client:   client,
		Rate:     r,
		Prefix:   "openway:rl:",
		Timeout:  250 * time.Millisecond,
		Fallback: NewInMemory(r),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if l.Client == nil {
		return l.fallback(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Rate.Window.Milliseconds()).Result()
	if err != nil {
		obs.RateLimitBackendError()
		return l.fallback(ctx, key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		obs.RateLimitBackendError()
		return l.fallback(ctx, key)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.Rate.Window.Milliseconds()
	}
	remaining := l.Rate.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.Rate.Limit,
		Limit:     l.Rate.Limit,
		Remaining: remaining,
		ResetAt:   time.Now().UTC().Add(time.Duration(ttlMs) * time.Millisecond),
	}
}

func (l *RedisLimiter) fallback(ctx context.Context, key string) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(ctx, key)
	}
	return Decision{Allowed: true, Limit: l.Rate.Limit, Remaining: l.Rate.Limit, ResetAt: time.Now().UTC().Add(l.Rate.Window)}
}
