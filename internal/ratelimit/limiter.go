// Package ratelimit provides a sliding-window admission controller for
// outbound calls. Each admission records a timestamp; a request is
// admitted once fewer than the limit of timestamps remain inside the
// window, sleeping until the oldest expires otherwise.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the default number of admissions per window.
	DefaultRateLimit = 10

	// DefaultTimeWindow is the default sliding-window width.
	DefaultTimeWindow = time.Second
)

// Limiter admits at most rate calls per sliding window. Safe for
// concurrent use; a single waiter advances deterministically because
// the lock is held across the wait.
type Limiter struct {
	mu     sync.Mutex
	rate   int
	window time.Duration
	times  []time.Time

	// now and sleep are overridable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with the given admissions-per-window rate.
// Non-positive arguments use the defaults.
func New(rate int, window time.Duration) *Limiter {
	if rate <= 0 {
		rate = DefaultRateLimit
	}

	if window <= 0 {
		window = DefaultTimeWindow
	}

	return &Limiter{
		rate:   rate,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Acquire blocks until the sliding window admits one more call, then
// records the admission. Returns early with the context's error on
// cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expire(now)

	if len(l.times) >= l.rate {
		oldest := l.times[0]
		wait := oldest.Add(l.window).Sub(now)

		if wait > 0 {
			err := l.sleep(ctx, wait)
			if err != nil {
				return err
			}
		}

		// The oldest admission has left the window.
		l.times = l.times[1:]
	}

	l.times = append(l.times, l.now())

	return nil
}

// expire drops timestamps older than now minus the window.
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)

	idx := 0
	for idx < len(l.times) && l.times[idx].Before(cutoff) {
		idx++
	}

	l.times = l.times[idx:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
