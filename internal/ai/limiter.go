package ai

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces AI calls. It halves its rate on 429 responses and
// recovers by 20% per success, up to twice the initial rate.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	max     rate.Limit
	min     rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at perSecond with the given burst.
func NewAdaptiveLimiter(perSecond float64, burst int) *AdaptiveLimiter {
	r := rate.Limit(perSecond)
	if perSecond <= 0 {
		r = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		current: r,
		max:     r * 2,
		min:     r / 4,
	}
}

// Wait blocks until a call may proceed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == rate.Inf {
		return
	}
	a.set(min(a.current*1.2, a.max))
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == rate.Inf {
		return
	}
	a.set(max(a.current*0.5, a.min))
	zap.L().Warn("ai: reducing request rate after 429", zap.Float64("new_rate", float64(a.current)))
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.current = r
	a.limiter.SetLimit(r)
}
