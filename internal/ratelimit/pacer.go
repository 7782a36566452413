// Package ratelimit paces visit starts with a token bucket so a crawl never
// hammers the deployments under test. Both sides are driven in lockstep, so a
// single bucket covers them.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer throttles visit starts.
type Pacer struct {
	limiter *rate.Limiter
}

// New builds a Pacer allowing rps visits per second with the given burst.
// A non-positive rps disables throttling; a non-positive burst means 1.
func New(rps float64, burst int) *Pacer {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until the next visit may start or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("visit pacing: %w", err)
	}
	return nil
}
