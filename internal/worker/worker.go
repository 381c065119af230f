// Package worker runs the background sync loops: project discovery,
// event consumption, periodic syncs, and the heartbeat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codesync-dev/codesync/internal/analytics"
	"github.com/codesync-dev/codesync/internal/debounce"
	"github.com/codesync-dev/codesync/internal/engine"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/queue"
	"github.com/codesync-dev/codesync/internal/recovery"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/watch"
)

const (
	// DefaultPollInterval is the project-discovery period.
	DefaultPollInterval = 60 * time.Second

	// DefaultPeriodicSyncInterval is the periodic-mode sync period.
	DefaultPeriodicSyncInterval = 3600 * time.Second

	// DefaultHeartbeatInterval is the heartbeat period.
	DefaultHeartbeatInterval = 10 * time.Second
)

// Sync triggers recorded in analytics rows.
const (
	TriggerManual    = "manual"
	TriggerGitHook   = "git-hook"
	TriggerScheduled = "scheduled"
	TriggerRealtime  = "realtime"
)

// Config tunes the Worker. Zero values use the defaults.
type Config struct {
	PollInterval         time.Duration
	PeriodicSyncInterval time.Duration
	HeartbeatInterval    time.Duration
	Debounce             debounce.Config
	Queue                queue.Config
	Logger               *slog.Logger
}

// Deps are the worker's long-lived collaborators.
type Deps struct {
	Store     store.Store
	Engine    *engine.Engine
	Watcher   *watch.Watcher
	Recovery  *recovery.Service
	Analytics *analytics.Recorder
}

// Worker supervises the sync pipeline. It owns the debouncer and the
// queue, recreating both on each start so a restart begins clean.
type Worker struct {
	deps Deps
	cfg  Config

	logger *slog.Logger

	mu            sync.Mutex
	running       bool
	lastHeartbeat time.Time
	debouncer     *debounce.Debouncer
	queue         *queue.Queue
	cancel        context.CancelFunc
	group         *errgroup.Group
}

// New creates a worker.
func New(deps Deps, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.PeriodicSyncInterval <= 0 {
		cfg.PeriodicSyncInterval = DefaultPeriodicSyncInterval
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Start resumes interrupted syncs and spawns the four loops. Starting
// a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()

	if w.running {
		w.mu.Unlock()

		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	group, loopCtx := errgroup.WithContext(loopCtx)

	w.queue = queue.New(w.cfg.Queue)
	w.debouncer = debounce.New(w.cfg.Debounce, func(projectID string, events []model.FileEvent) {
		w.onFlush(loopCtx, projectID, events)
	})

	w.cancel = cancel
	w.group = group
	w.running = true
	w.lastHeartbeat = time.Now()

	w.mu.Unlock()

	resumed, err := w.deps.Recovery.ResumeInterrupted(ctx,
		func(ctx context.Context, projectID string, files []string) error {
			_, syncErr := w.runSync(ctx, projectID, files, TriggerScheduled)

			return syncErr
		})
	if err != nil {
		w.logger.WarnContext(ctx, "resuming interrupted syncs", "error", err)
	} else if resumed > 0 {
		w.logger.InfoContext(ctx, "resumed interrupted syncs", "count", resumed)
	}

	group.Go(func() error { return w.discoveryLoop(loopCtx) })
	group.Go(func() error { return w.eventLoop(loopCtx) })
	group.Go(func() error { return w.periodicLoop(loopCtx) })
	group.Go(func() error { return w.heartbeatLoop(loopCtx) })

	w.logger.InfoContext(ctx, "worker started",
		"poll_interval", w.cfg.PollInterval,
		"periodic_sync_interval", w.cfg.PeriodicSyncInterval)

	return nil
}

// Stop cancels the loops, then tears down the watchers, the
// debouncer, and the queue.
func (w *Worker) Stop() {
	w.mu.Lock()

	if !w.running {
		w.mu.Unlock()

		return
	}

	w.running = false
	cancel := w.cancel
	group := w.group
	deb := w.debouncer
	q := w.queue

	w.mu.Unlock()

	cancel()

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("worker loop exited with error", "error", err)
	}

	for _, projectID := range w.deps.Watcher.WatchedProjects() {
		stopErr := w.deps.Watcher.StopWatching(projectID)
		if stopErr != nil {
			w.logger.Warn("stopping watcher", "project_id", projectID, "error", stopErr)
		}
	}

	deb.Close()
	q.Shutdown()

	w.logger.Info("worker stopped")
}

// IsRunning reports whether the loops are active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.running
}

// LastHeartbeat returns the most recent heartbeat time.
func (w *Worker) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lastHeartbeat
}

// WatchedProjects counts the directories under observation.
func (w *Worker) WatchedProjects() int {
	return len(w.deps.Watcher.WatchedProjects())
}

// PendingEvents counts buffered events and queued jobs.
func (w *Worker) PendingEvents() int {
	w.mu.Lock()
	deb := w.debouncer
	q := w.queue
	w.mu.Unlock()

	if deb == nil || q == nil {
		return 0
	}

	return deb.PendingCount("") + q.PendingCount("")
}

// QueueSnapshot reports queue depth and active projects.
func (w *Worker) QueueSnapshot() queue.Status {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		return queue.Status{QueuedByProject: map[string]int{}}
	}

	return q.Snapshot()
}

// SyncNow enqueues a manual-priority job and executes it, returning
// the engine's stats.
func (w *Worker) SyncNow(ctx context.Context, projectID string, files []string, trigger string) (model.SyncStats, error) {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		// No queue without a running worker; sync directly.
		return w.runSync(ctx, projectID, files, trigger)
	}

	q.Enqueue(projectID, files, model.PriorityManual)

	var stats model.SyncStats

	err := q.ExecuteNext(ctx, projectID, func(ctx context.Context, projectID string, files []string) error {
		var syncErr error

		stats, syncErr = w.runSync(ctx, projectID, files, trigger)

		return syncErr
	})

	return stats, err
}

// onFlush turns one debounced batch into an auto-priority job.
func (w *Worker) onFlush(ctx context.Context, projectID string, events []model.FileEvent) {
	files := make([]string, 0, len(events))
	for _, event := range events {
		files = append(files, event.FilePath)
	}

	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		return
	}

	q.Enqueue(projectID, files, model.PriorityAuto)

	go func() {
		err := q.ExecuteNext(ctx, projectID, func(ctx context.Context, projectID string, files []string) error {
			_, syncErr := w.runSync(ctx, projectID, files, TriggerRealtime)

			return syncErr
		})
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("realtime sync failed", "project_id", projectID, "error", err)
		}
	}()
}

// runSync executes one sync with analytics bracketing and auto-sync
// bookkeeping.
func (w *Worker) runSync(ctx context.Context, projectID string, files []string, trigger string) (model.SyncStats, error) {
	op := w.deps.Analytics.Begin(ctx, projectID, trigger)

	stats, err := w.deps.Engine.SyncProject(ctx, projectID, files)
	if err != nil {
		w.deps.Analytics.Fail(ctx, op, err)

		return stats, err
	}

	w.deps.Analytics.Complete(ctx, op, stats)

	if trigger != TriggerManual {
		w.stampAutoSync(ctx, projectID)
	}

	return stats, nil
}

func (w *Worker) stampAutoSync(ctx context.Context, projectID string) {
	project, err := w.deps.Store.Project(ctx, projectID)
	if err != nil {
		w.logger.WarnContext(ctx, "loading project for auto-sync stamp",
			"project_id", projectID, "error", err)

		return
	}

	now := time.Now()
	project.LastAutoSync = &now

	err = w.deps.Store.UpdateProject(ctx, project)
	if err != nil {
		w.logger.WarnContext(ctx, "stamping auto-sync time",
			"project_id", projectID, "error", err)
	}
}

// discoveryLoop reconciles the watch set against project config.
func (w *Worker) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.reconcileWatchers(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) reconcileWatchers(ctx context.Context) {
	projects, err := w.deps.Store.Projects(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "listing projects", "error", err)

		return
	}

	wantWatched := make(map[string]string)

	for _, project := range projects {
		if project.AutoSyncEnabled && project.SyncMode == model.ModeRealtime {
			wantWatched[project.ID] = project.LocalPath
		}
	}

	for projectID, path := range wantWatched {
		if w.deps.Watcher.IsWatching(projectID) {
			continue
		}

		err = w.deps.Watcher.StartWatching(projectID, path)
		if err != nil {
			w.logger.WarnContext(ctx, "starting watcher",
				"project_id", projectID, "path", path, "error", err)
		}
	}

	for _, projectID := range w.deps.Watcher.WatchedProjects() {
		_, wanted := wantWatched[projectID]
		if wanted {
			continue
		}

		err = w.deps.Watcher.StopWatching(projectID)
		if err != nil {
			w.logger.WarnContext(ctx, "stopping watcher",
				"project_id", projectID, "error", err)
		}
	}
}

// eventLoop feeds watcher events into the debouncer.
func (w *Worker) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.deps.Watcher.Events():
			if !ok {
				return nil
			}

			w.mu.Lock()
			deb := w.debouncer
			w.mu.Unlock()

			if deb != nil {
				deb.Add(event)
			}
		}
	}
}

// periodicLoop enqueues syncs for periodic-mode projects whose last
// auto-sync is older than the interval.
func (w *Worker) periodicLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PeriodicSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runPeriodicSyncs(ctx)
		}
	}
}

func (w *Worker) runPeriodicSyncs(ctx context.Context) {
	projects, err := w.deps.Store.Projects(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "listing projects", "error", err)

		return
	}

	for _, project := range projects {
		if !project.AutoSyncEnabled || project.SyncMode != model.ModePeriodic {
			continue
		}

		if project.LastAutoSync != nil &&
			time.Since(*project.LastAutoSync) < w.cfg.PeriodicSyncInterval {
			continue
		}

		w.mu.Lock()
		q := w.queue
		w.mu.Unlock()

		if q == nil {
			return
		}

		q.Enqueue(project.ID, nil, model.PriorityAuto)

		err = q.ExecuteNext(ctx, project.ID, func(ctx context.Context, projectID string, files []string) error {
			_, syncErr := w.runSync(ctx, projectID, files, TriggerScheduled)

			return syncErr
		})
		if err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "periodic sync failed",
				"project_id", project.ID, "error", err)
		}
	}
}

// heartbeatLoop stamps the heartbeat the health monitor watches.
func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.mu.Lock()
			w.lastHeartbeat = time.Now()
			w.mu.Unlock()
		}
	}
}

// EnqueueSync adds a job without waiting for execution, for callers
// that only need the operation id.
func (w *Worker) EnqueueSync(projectID string, files []string, priority model.Priority) (string, error) {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		return "", fmt.Errorf("worker is not running")
	}

	return q.Enqueue(projectID, files, priority), nil
}
