package health

import (
	"context"
	"time"
)

// SetClock injects the time source for tests.
func SetClock(m *Monitor, now func() time.Time) {
	m.now = now
}

// SetSleep injects the restart delay sleep for tests.
func SetSleep(m *Monitor, sleep func(ctx context.Context, d time.Duration) error) {
	m.sleep = sleep
}
