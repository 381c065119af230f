package ratelimit

import (
	"context"
	"time"
)

// NewWithClock creates a limiter with injected time functions for tests.
func NewWithClock(
	rate int,
	window time.Duration,
	now func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error,
) *Limiter {
	l := New(rate, window)
	l.now = now
	l.sleep = sleep

	return l
}
