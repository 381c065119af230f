package embedder

import (
	"context"
	"time"
)

// SetSleep injects the backoff sleep function for tests.
func SetSleep(b *BatchEmbedder, sleep func(ctx context.Context, d time.Duration) error) {
	b.sleep = sleep
}
