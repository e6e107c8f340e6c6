// Package rategate throttles calls to the upstream API.
package rategate

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

const (
	perMinute = 60
	maxJitter = 3 * time.Second
)

// Gate is a cooperative rate limiter. Acquire admits at most 60 calls
// per minute and stretches each admission by a random delay of up to
// three seconds, so polls from independent deployments never align
// into a synchronized burst against the upstream.
type Gate struct {
	limiter *rate.Limiter
	jitter  func() time.Duration
}

// New returns a Gate with the upstream quota of 60 calls per minute.
func New() *Gate {
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(time.Minute/perMinute), perMinute),
		jitter:  func() time.Duration { return Jitter(maxJitter) },
	}
}

// Acquire blocks until a token is available, then sleeps the jitter.
// It returns ctx.Err() when the context is cancelled first.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return sleep(ctx, g.jitter())
}

// Jitter returns a uniformly random duration in [0, d).
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
