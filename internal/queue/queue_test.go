package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/queue"
)

func TestQueue_PriorityOrdersManualFirst(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{})

	q.Enqueue("p1", []string{"auto.go"}, model.PriorityAuto)
	q.Enqueue("p1", []string{"manual.go"}, model.PriorityManual)

	var ran [][]string

	syncFn := func(_ context.Context, _ string, files []string) error {
		ran = append(ran, files)

		return nil
	}

	require.NoError(t, q.ExecuteNext(context.Background(), "p1", syncFn))
	require.NoError(t, q.ExecuteNext(context.Background(), "p1", syncFn))

	require.Len(t, ran, 2)
	assert.Equal(t, []string{"manual.go"}, ran[0])
	assert.Equal(t, []string{"auto.go"}, ran[1])
	assert.Zero(t, q.PendingCount("p1"))
}

func TestQueue_AtMostOneActivePerProject(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{})

	q.Enqueue("p1", nil, model.PriorityAuto)
	q.Enqueue("p1", nil, model.PriorityAuto)

	started := make(chan struct{})
	release := make(chan struct{})

	var runs atomic.Int32

	syncFn := func(_ context.Context, _ string, _ []string) error {
		runs.Add(1)
		close(started)
		<-release

		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = q.ExecuteNext(context.Background(), "p1", syncFn)
	}()

	<-started
	assert.True(t, q.IsActive("p1"))

	// A second call while p1 is active is a no-op.
	require.NoError(t, q.ExecuteNext(context.Background(), "p1", syncFn))
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	wg.Wait()

	assert.False(t, q.IsActive("p1"))
	assert.Equal(t, 1, q.PendingCount("p1"))
}

func TestQueue_GlobalConcurrencyCap(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{MaxConcurrent: 2})

	projects := []string{"p1", "p2", "p3", "p4"}
	for _, id := range projects {
		q.Enqueue(id, nil, model.PriorityAuto)
	}

	var (
		current atomic.Int32
		peak    atomic.Int32
	)

	syncFn := func(_ context.Context, _ string, _ []string) error {
		n := current.Add(1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		current.Add(-1)

		return nil
	}

	var wg sync.WaitGroup

	for _, id := range projects {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = q.ExecuteNext(context.Background(), id, syncFn)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, q.PendingCount(""))
}

func TestQueue_CancelQueuedOnly(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{})

	opID := q.Enqueue("p1", nil, model.PriorityAuto)

	assert.True(t, q.Cancel(opID))
	assert.False(t, q.Cancel(opID))
	assert.Zero(t, q.PendingCount("p1"))

	// An active project's queued jobs cannot be cancelled.
	q.Enqueue("p2", nil, model.PriorityAuto)
	queuedOp := q.Enqueue("p2", nil, model.PriorityAuto)

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = q.ExecuteNext(context.Background(), "p2", func(_ context.Context, _ string, _ []string) error {
			close(started)
			<-release

			return nil
		})
	}()

	<-started
	assert.False(t, q.Cancel(queuedOp))

	close(release)
	wg.Wait()
}

func TestQueue_SyncErrorClearsActiveFlag(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{})

	q.Enqueue("p1", nil, model.PriorityAuto)

	err := q.ExecuteNext(context.Background(), "p1", func(_ context.Context, _ string, _ []string) error {
		return errors.New("sync exploded")
	})
	require.Error(t, err)

	assert.False(t, q.IsActive("p1"))
	assert.Zero(t, q.PendingCount("p1"))
}

func TestQueue_Snapshot(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{})

	q.Enqueue("p1", nil, model.PriorityAuto)
	q.Enqueue("p1", nil, model.PriorityManual)
	q.Enqueue("p2", nil, model.PriorityAuto)

	status := q.Snapshot()
	assert.Equal(t, 3, status.TotalQueued)
	assert.Equal(t, 2, status.QueuedByProject["p1"])
	assert.Equal(t, 1, status.QueuedByProject["p2"])
	assert.Empty(t, status.ActiveProjects)
}

func TestQueue_ShutdownRejectsNewWork(t *testing.T) {
	t.Parallel()

	q := queue.New(queue.Config{ShutdownTimeout: 100 * time.Millisecond})
	q.Enqueue("p1", nil, model.PriorityAuto)
	q.Shutdown()

	err := q.ExecuteNext(context.Background(), "p1", func(_ context.Context, _ string, _ []string) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")
}
