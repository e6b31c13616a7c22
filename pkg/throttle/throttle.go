// Package throttle spaces requests to the same domain.
package throttle

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum gap between requests to one domain.
// Domains never wait on each other.
type Throttle struct {
	delay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a throttle. A delay of zero disables waiting.
func New(delay time.Duration) *Throttle {
	return &Throttle{
		delay:    delay,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Delay returns the configured gap.
func (t *Throttle) Delay() time.Duration {
	return t.delay
}

// Acquire blocks until a request to domain is allowed and records it as the
// domain's latest request.
func (t *Throttle) Acquire(ctx context.Context, domain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.delay <= 0 {
		return nil
	}

	limiter := t.limiter(strings.ToLower(domain))

	// Reserve is the atomic check-and-update: each caller gets its own slot.
	r := limiter.Reserve()
	wait := r.Delay()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (t *Throttle) limiter(domain string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.delay), 1)
		t.limiters[domain] = limiter
	}
	return limiter
}
