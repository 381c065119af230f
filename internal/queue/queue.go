// Package queue schedules sync jobs per project with priority ordering
// and a global concurrency cap.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/codesync-dev/codesync/internal/model"
)

const (
	// DefaultMaxConcurrent caps sync executions across all projects.
	DefaultMaxConcurrent = 3

	// DefaultShutdownTimeout bounds the wait for active syncs on shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// SyncFunc executes one sync job.
type SyncFunc func(ctx context.Context, projectID string, files []string) error

// Config tunes a Queue. Zero values use the defaults.
type Config struct {
	MaxConcurrent   int
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Status is a point-in-time snapshot of the queue.
type Status struct {
	QueuedByProject map[string]int `json:"queued_by_project"`
	ActiveProjects  []string       `json:"active_projects"`
	TotalQueued     int            `json:"total_queued"`
}

// Queue holds per-project job lists ordered by priority then arrival.
// A global semaphore caps concurrent executions; each project runs at
// most one job at a time.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string][]model.SyncJob
	active  map[string]struct{}
	wg      sync.WaitGroup
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
	closed  bool
}

// New creates a sync queue.
func New(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Queue{
		jobs:    make(map[string][]model.SyncJob),
		active:  make(map[string]struct{}),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		timeout: cfg.ShutdownTimeout,
		logger:  logger,
	}
}

// Enqueue adds a job and returns its operation id. Enqueue always
// succeeds; jobs for a syncing project wait their turn.
func (q *Queue) Enqueue(projectID string, files []string, priority model.Priority) string {
	job := model.SyncJob{
		OperationID: uuid.NewString(),
		ProjectID:   projectID,
		Files:       files,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
	}

	q.mu.Lock()

	q.jobs[projectID] = append(q.jobs[projectID], job)
	sort.SliceStable(q.jobs[projectID], func(i, j int) bool {
		return q.jobs[projectID][i].Priority < q.jobs[projectID][j].Priority
	})

	q.mu.Unlock()

	q.logger.Debug("enqueued sync job",
		"operation_id", job.OperationID, "project_id", projectID, "priority", priority)

	return job.OperationID
}

// ExecuteNext runs the project's highest-priority job through syncFn.
// It is a no-op when the project is already active or has no jobs.
func (q *Queue) ExecuteNext(ctx context.Context, projectID string, syncFn SyncFunc) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return fmt.Errorf("queue is shut down")
	}

	_, isActive := q.active[projectID]
	if isActive || len(q.jobs[projectID]) == 0 {
		q.mu.Unlock()

		return nil
	}

	// Reserve the project before releasing the lock so a concurrent
	// call cannot start a second job for it.
	q.active[projectID] = struct{}{}
	q.wg.Add(1)
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		delete(q.active, projectID)
		q.mu.Unlock()
		q.wg.Done()
	}

	err := q.sem.Acquire(ctx, 1)
	if err != nil {
		release()

		return fmt.Errorf("acquire sync slot: %w", err)
	}

	defer q.sem.Release(1)

	q.mu.Lock()

	pending := q.jobs[projectID]
	if len(pending) == 0 {
		q.mu.Unlock()
		release()

		return nil
	}

	job := pending[0]
	q.jobs[projectID] = pending[1:]

	if len(q.jobs[projectID]) == 0 {
		delete(q.jobs, projectID)
	}

	q.mu.Unlock()

	defer release()

	q.logger.Info("executing sync job",
		"operation_id", job.OperationID, "project_id", projectID)

	err = syncFn(ctx, projectID, job.Files)
	if err != nil {
		q.logger.Warn("sync job failed",
			"operation_id", job.OperationID, "project_id", projectID, "error", err)

		return err
	}

	return nil
}

// Cancel removes a queued operation. Active operations cannot be
// cancelled.
func (q *Queue) Cancel(operationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for projectID, pending := range q.jobs {
		for i, job := range pending {
			if job.OperationID != operationID {
				continue
			}

			_, isActive := q.active[projectID]
			if isActive {
				return false
			}

			q.jobs[projectID] = append(pending[:i:i], pending[i+1:]...)
			if len(q.jobs[projectID]) == 0 {
				delete(q.jobs, projectID)
			}

			return true
		}
	}

	return false
}

// PendingCount reports queued jobs for one project, or all projects
// when projectID is empty.
func (q *Queue) PendingCount(projectID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if projectID != "" {
		return len(q.jobs[projectID])
	}

	total := 0
	for _, pending := range q.jobs {
		total += len(pending)
	}

	return total
}

// IsActive reports whether a project has a running job.
func (q *Queue) IsActive(projectID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.active[projectID]

	return ok
}

// Snapshot reports queue depth and active projects.
func (q *Queue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := Status{QueuedByProject: make(map[string]int)}

	for projectID, pending := range q.jobs {
		status.QueuedByProject[projectID] = len(pending)
		status.TotalQueued += len(pending)
	}

	for projectID := range q.active {
		status.ActiveProjects = append(status.ActiveProjects, projectID)
	}

	sort.Strings(status.ActiveProjects)

	return status
}

// Shutdown stops accepting work and waits up to the shutdown timeout
// for active jobs. Unfinished jobs are logged and abandoned.
func (q *Queue) Shutdown() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("sync queue drained")
	case <-time.After(q.timeout):
		q.mu.Lock()

		abandoned := make([]string, 0, len(q.active))
		for projectID := range q.active {
			abandoned = append(abandoned, projectID)
		}

		q.mu.Unlock()

		sort.Strings(abandoned)
		q.logger.Warn("shutdown timeout, abandoning active syncs", "projects", abandoned)
	}
}
