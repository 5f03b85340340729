// ABOUTME: Token-bucket rate limiting around a Provider
// ABOUTME: Backs off for a cool-down period after the backend reports a quota error

package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitBackoff is how long calls are held after the backend returns 429.
const rateLimitBackoff = 30 * time.Second

// RateLimited wraps a Provider with a token bucket.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// NewRateLimited limits next to rps calls per second with the given burst.
func NewRateLimited(next Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the wrapped provider's name.
func (r *RateLimited) Name() string {
	return r.next.Name()
}

// Generate waits for a token, then calls the wrapped provider.
func (r *RateLimited) Generate(ctx context.Context, prompt string) (*Generation, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	gen, err := r.next.Generate(ctx, prompt)
	if err != nil && IsRateLimited(err) {
		r.mu.Lock()
		r.retryAt = time.Now().Add(rateLimitBackoff)
		r.mu.Unlock()
	}
	return gen, err
}

func (r *RateLimited) wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}
