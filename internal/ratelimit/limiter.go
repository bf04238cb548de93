// Package ratelimit paces requests to cloud APIs with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/logging"
)

// Limiter is a token bucket. It allows bursts up to burst requests, then
// refills at rate tokens per second.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64
	lastRefill time.Time
	lastWarn   time.Time

	now    func() time.Time
	logger *logging.Logger
}

// New creates a limiter that starts with a full bucket.
func New(rate, burst float64) *Limiter {
	return &Limiter{
		tokens:     burst,
		burst:      burst,
		rate:       rate,
		lastRefill: time.Now(),
		now:        time.Now,
		logger:     logging.NewLogger("ratelimit"),
	}
}

// NewGoogleDrive returns a limiter sized for the Drive per-user quota.
func NewGoogleDrive() *Limiter {
	return New(constants.GoogleDriveRequestsPerSec, constants.GoogleDriveRequestBurst)
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.tryAcquire() {
		return nil
	}

	start := l.now()
	if wait := l.untilNext(); wait > constants.RateLimitWarnAfter {
		l.mu.Lock()
		if l.now().Sub(l.lastWarn) > 10*time.Second {
			l.logger.Warn().Dur("wait", wait).Msg("rate limited, waiting for API capacity")
			l.lastWarn = l.now()
		}
		l.mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.tryAcquire() {
			l.logger.Debug().Dur("waited", l.now().Sub(start)).Msg("rate limit wait done")
			return nil
		}
		timer := time.NewTimer(l.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Middleware returns a resty request hook that waits for a token.
func (l *Limiter) Middleware() resty.RequestMiddleware {
	return func(_ *resty.Client, r *resty.Request) error {
		return l.Wait(r.Context())
	}
}

// Tokens reports the current bucket level after refilling.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

func (l *Limiter) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

func (l *Limiter) untilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	need := 1 - l.tokens
	if need <= 0 || l.rate <= 0 {
		return time.Millisecond
	}
	return time.Duration(need / l.rate * float64(time.Second))
}
