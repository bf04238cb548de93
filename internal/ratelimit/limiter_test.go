package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate, burst float64) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(rate, burst)
	l.now = clock.Now
	l.lastRefill = clock.Now()
	return l, clock
}

func TestLimiterStartsFull(t *testing.T) {
	l, _ := newTestLimiter(1, 10)
	assert.InDelta(t, 10, l.Tokens(), 0.001)
}

func TestLimiterBurstThenEmpty(t *testing.T) {
	l, _ := newTestLimiter(1, 5)
	for i := 0; i < 5; i++ {
		require.True(t, l.tryAcquire(), "acquire %d", i+1)
	}
	assert.False(t, l.tryAcquire())
}

func TestLimiterRefillsAndCaps(t *testing.T) {
	l, clock := newTestLimiter(10, 10)
	for i := 0; i < 10; i++ {
		l.tryAcquire()
	}
	clock.Advance(200 * time.Millisecond)
	assert.InDelta(t, 2, l.Tokens(), 0.001)

	clock.Advance(time.Hour)
	assert.InDelta(t, 10, l.Tokens(), 0.001)
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := New(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	l := New(50, 1)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestMiddlewarePacesRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	l := New(0.001, 2)
	rc := resty.New()
	rc.OnBeforeRequest(l.Middleware())

	for i := 0; i < 2; i++ {
		_, err := rc.R().Get(srv.URL)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rc.R().SetContext(ctx).Get(srv.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
