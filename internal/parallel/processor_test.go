package parallel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/parallel"
)

func TestMap_ResultsInInputOrder(t *testing.T) {
	t.Parallel()

	files := []string{"a.go", "b.go", "c.go"}

	results := parallel.Map(context.Background(), parallel.Config{MaxWorkers: 2}, files,
		func(_ context.Context, path string) (string, error) {
			return "chunked:" + path, nil
		})

	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, files[i], res.FilePath)
		assert.True(t, res.Success)
		assert.Equal(t, "chunked:"+files[i], res.Value)
	}
}

func TestMap_FailureIsolation(t *testing.T) {
	t.Parallel()

	errBad := errors.New("unreadable")
	files := []string{"ok1", "bad", "ok2"}

	results := parallel.Map(context.Background(), parallel.Config{}, files,
		func(_ context.Context, path string) (int, error) {
			if path == "bad" {
				return 0, errBad
			}

			return 1, nil
		})

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	require.ErrorIs(t, results[1].Err, errBad)
	assert.True(t, results[2].Success)
}

func TestMap_RespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	const maxWorkers = 3

	var current, peak int64

	files := make([]string, 20)
	for i := range files {
		files[i] = "f"
	}

	results := parallel.Map(context.Background(), parallel.Config{MaxWorkers: maxWorkers}, files,
		func(_ context.Context, _ string) (struct{}, error) {
			n := atomic.AddInt64(&current, 1)

			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}

			atomic.AddInt64(&current, -1)

			return struct{}{}, nil
		})

	require.Len(t, results, 20)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(maxWorkers))
}

func TestMap_ProgressReachesTotal(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []parallel.Progress
	)

	files := []string{"1", "2", "3", "4"}

	parallel.Map(context.Background(), parallel.Config{
		OnProgress: func(p parallel.Progress) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		},
	}, files, func(_ context.Context, _ string) (struct{}, error) {
		return struct{}{}, nil
	})

	require.Len(t, seen, len(files))

	// Progress callbacks may arrive out of order; the highest counter
	// must still reach the total.
	maxProcessed := 0
	for _, p := range seen {
		if p.Processed > maxProcessed {
			maxProcessed = p.Processed
		}

		assert.Equal(t, len(files), p.Total)
		assert.Zero(t, p.Failed)
	}

	assert.Equal(t, len(files), maxProcessed)
}

func TestMap_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := parallel.Map(ctx, parallel.Config{}, []string{"a", "b"},
		func(_ context.Context, _ string) (struct{}, error) {
			return struct{}{}, nil
		})

	for _, res := range results {
		assert.False(t, res.Success)
	}
}
