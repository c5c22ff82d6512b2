package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// InMemoryLimiter is a per-process token bucket per key, refilled at
// Limit tokens per Window with a burst of Limit.
type InMemoryLimiter struct {
	rate     Rate
	limiters sync.Map // key -> *rate.Limiter
}

func NewInMemory(r Rate) *InMemoryLimiter {
	if r.Limit <= 0 {
		r.Limit = 1
	}
	if r.Window <= 0 {
		r.Window = time.Second
	}
	return &InMemoryLimiter{rate: r}
}

func (l *InMemoryLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	every := rate.Every(l.rate.Window / time.Duration(l.rate.Limit))
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(every, l.rate.Limit))
	return v.(*rate.Limiter)
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string) Decision {
	lim := l.limiter(key)
	now := time.Now()
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     l.rate.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.rate.Window).UTC(),
	}
}
