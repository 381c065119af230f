package breaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/breaker"
	"github.com/codesync-dev/codesync/internal/syncerr"
)

var errBoom = errors.New("database exploded")

func failing(_ context.Context) error { return errBoom }

func succeeding(_ context.Context) error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newBreaker(cfg breaker.Config) (*breaker.Breaker, *clock) {
	clk := &clock{now: time.Unix(5000, 0)}
	b := breaker.New(cfg)
	b.SetClock(clk.Now)

	return b, clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newBreaker(breaker.Config{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Call(ctx, failing), errBoom)
	}

	assert.Equal(t, breaker.StateOpen, b.State())

	// Next call rejected without invoking fn.
	called := false
	err := b.Call(ctx, func(_ context.Context) error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, syncerr.ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, syncerr.CategoryCircuitBreaker, syncerr.Classify(err))
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	b, clk := newBreaker(breaker.Config{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	require.Error(t, b.Call(ctx, failing))
	require.Equal(t, breaker.StateOpen, b.State())

	// Still inside the timeout: rejected.
	clk.Advance(30 * time.Second)
	require.ErrorIs(t, b.Call(ctx, succeeding), syncerr.ErrCircuitOpen)

	// Past the timeout: probe admitted, success closes the circuit.
	clk.Advance(31 * time.Second)
	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, breaker.StateClosed, b.State())

	// Failure count was reset: a single failure stays closed.
	require.Error(t, b.Call(ctx, failing))
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clk := newBreaker(breaker.Config{FailureThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	require.Equal(t, breaker.StateOpen, b.State())

	clk.Advance(61 * time.Second)
	require.ErrorIs(t, b.Call(ctx, failing), errBoom)
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestBreaker_HalfOpenConcurrencyBound(t *testing.T) {
	t.Parallel()

	b, clk := newBreaker(breaker.Config{FailureThreshold: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	clk.Advance(2 * time.Second)

	release := make(chan struct{})
	probeStarted := make(chan struct{})

	go func() {
		_ = b.Call(ctx, func(_ context.Context) error {
			close(probeStarted)
			<-release

			return nil
		})
	}()

	<-probeStarted

	// Second probe beyond half_open_max_calls is rejected.
	err := b.Call(ctx, succeeding)
	require.ErrorIs(t, err, syncerr.ErrCircuitOpen)

	close(release)
}

func TestRegistry_OneBreakerPerProject(t *testing.T) {
	t.Parallel()

	reg := breaker.NewRegistry(breaker.Config{})

	a := reg.For("p1")
	assert.Same(t, a, reg.For("p1"))
	assert.NotSame(t, a, reg.For("p2"))
}
