package debounce_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/debounce"
	"github.com/codesync-dev/codesync/internal/model"
)

// collector records flushed batches.
type collector struct {
	mu      sync.Mutex
	batches map[string][][]model.FileEvent
	notify  chan struct{}
}

func newCollector() *collector {
	return &collector{
		batches: make(map[string][][]model.FileEvent),
		notify:  make(chan struct{}, 16),
	}
}

func (c *collector) flush(projectID string, events []model.FileEvent) {
	c.mu.Lock()
	c.batches[projectID] = append(c.batches[projectID], events)
	c.mu.Unlock()

	c.notify <- struct{}{}
}

func (c *collector) batchesFor(projectID string) [][]model.FileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]model.FileEvent, len(c.batches[projectID]))
	copy(out, c.batches[projectID])

	return out
}

func (c *collector) wait(t *testing.T) {
	t.Helper()

	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}

func event(projectID, path string, kind model.EventKind) model.FileEvent {
	return model.FileEvent{
		ProjectID: projectID,
		FilePath:  path,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

func TestDebouncer_CoalescesLatestEventPerFile(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: time.Hour}, c.flush)
	t.Cleanup(d.Close)

	d.Add(event("p1", "a.go", model.EventModified))
	d.Add(event("p1", "a.go", model.EventDeleted))
	d.Add(event("p1", "b.go", model.EventCreated))

	assert.Equal(t, 2, d.PendingCount("p1"))

	flushed := d.Flush("p1")
	require.Len(t, flushed, 2)

	kinds := make(map[string]model.EventKind)
	for _, e := range flushed {
		kinds[e.FilePath] = e.Kind
	}

	// The newer delete replaced the modify for a.go.
	assert.Equal(t, model.EventDeleted, kinds["a.go"])
	assert.Equal(t, model.EventCreated, kinds["b.go"])
	assert.Zero(t, d.PendingCount("p1"))
}

func TestDebouncer_FlushesAfterQuietPeriod(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: 20 * time.Millisecond}, c.flush)
	t.Cleanup(d.Close)

	d.Add(event("p1", "a.go", model.EventModified))

	c.wait(t)

	batches := c.batchesFor("p1")
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
	assert.Zero(t, d.PendingCount("p1"))
}

func TestDebouncer_MaxBatchFlushesImmediately(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: time.Hour, MaxBatchSize: 3}, c.flush)
	t.Cleanup(d.Close)

	d.Add(event("p1", "a.go", model.EventCreated))
	d.Add(event("p1", "b.go", model.EventCreated))
	d.Add(event("p1", "c.go", model.EventCreated))

	c.wait(t)

	batches := c.batchesFor("p1")
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestDebouncer_ProjectsAreIndependent(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: time.Hour}, c.flush)
	t.Cleanup(d.Close)

	d.Add(event("p1", "a.go", model.EventCreated))
	d.Add(event("p2", "b.go", model.EventCreated))

	flushed := d.Flush("p1")
	assert.Len(t, flushed, 1)

	// p2 stays buffered.
	assert.Equal(t, 1, d.PendingCount("p2"))
	assert.Equal(t, 1, d.PendingCount(""))
}

func TestDebouncer_FlushAllDrainsEverything(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: time.Hour}, c.flush)
	t.Cleanup(d.Close)

	d.Add(event("p1", "a.go", model.EventCreated))
	d.Add(event("p2", "b.go", model.EventCreated))
	d.Add(event("p2", "c.go", model.EventCreated))

	all := d.FlushAll()
	require.Len(t, all, 2)
	assert.Len(t, all["p1"], 1)
	assert.Len(t, all["p2"], 2)
	assert.Zero(t, d.PendingCount(""))
}

func TestDebouncer_CloseFlushesAndDropsLaterEvents(t *testing.T) {
	t.Parallel()

	c := newCollector()
	d := debounce.New(debounce.Config{Debounce: time.Hour}, c.flush)

	d.Add(event("p1", "a.go", model.EventCreated))
	d.Close()

	batches := c.batchesFor("p1")
	require.Len(t, batches, 1)

	d.Add(event("p1", "b.go", model.EventCreated))
	assert.Zero(t, d.PendingCount(""))
}
