package analytics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/analytics"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

func TestRecorder_CompleteRoundTrip(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	rec := analytics.NewRecorder(mem, nil)

	op := rec.Begin(context.Background(), "p1", "manual")
	require.NotEmpty(t, op.ID)
	assert.Equal(t, analytics.StatusRunning, op.Status)

	rec.Complete(context.Background(), op, model.SyncStats{
		FilesProcessed: 2,
		ChunksAdded:    5,
		ChunksDeleted:  1,
		DurationSecs:   1.5,
	})

	ops, err := mem.SyncOperationsByProject(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, analytics.StatusCompleted, ops[0].Status)
	assert.Equal(t, 5, ops[0].ChunksAdded)
	require.NotNil(t, ops[0].CompletedAt)
}

func TestRecorder_Fail(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	rec := analytics.NewRecorder(mem, nil)

	op := rec.Begin(context.Background(), "p1", "scheduled")
	rec.Fail(context.Background(), op, errors.New("store unreachable"))

	ops, err := mem.SyncOperationsByProject(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, analytics.StatusFailed, ops[0].Status)
	assert.Equal(t, "store unreachable", ops[0].ErrorMessage)
}

func TestRecorder_Summarize(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	rec := analytics.NewRecorder(mem, nil)

	first := rec.Begin(context.Background(), "p1", "manual")
	rec.Complete(context.Background(), first, model.SyncStats{ChunksAdded: 3, DurationSecs: 2})

	second := rec.Begin(context.Background(), "p1", "git-hook")
	rec.Complete(context.Background(), second, model.SyncStats{ChunksAdded: 1, ChunksDeleted: 2, DurationSecs: 4})

	third := rec.Begin(context.Background(), "p1", "scheduled")
	rec.Fail(context.Background(), third, errors.New("quota exceeded"))

	// Another project's history stays out of the summary.
	other := rec.Begin(context.Background(), "p2", "manual")
	rec.Complete(context.Background(), other, model.SyncStats{ChunksAdded: 100})

	summary, err := rec.Summarize(context.Background(), "p1", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalOperations)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.ChunksAdded)
	assert.Equal(t, 2, summary.ChunksDeleted)
	assert.Equal(t, "quota exceeded", summary.LastError)
	assert.Greater(t, summary.AvgDurationSecs, 0.0)
}

func TestRecorder_ZeroOperationIsSilentlySkipped(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	rec := analytics.NewRecorder(mem, nil)

	rec.Complete(context.Background(), model.SyncOperation{}, model.SyncStats{})
	rec.Fail(context.Background(), model.SyncOperation{}, errors.New("x"))

	ops, err := mem.SyncOperationsByProject(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
