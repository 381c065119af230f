// Package debounce coalesces bursty file events per project. Only the
// newest event per file survives; a flush fires after a quiet period or
// immediately once the batch cap is reached.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codesync-dev/codesync/internal/model"
)

const (
	// DefaultDebounce is the quiet period before a flush.
	DefaultDebounce = 2 * time.Second

	// DefaultMaxBatchSize forces an immediate flush once this many
	// distinct files are pending for one project.
	DefaultMaxBatchSize = 50
)

// FlushFunc receives the coalesced events of one project.
type FlushFunc func(projectID string, events []model.FileEvent)

// Config tunes a Debouncer. Zero values use the defaults.
type Config struct {
	Debounce     time.Duration
	MaxBatchSize int
	Logger       *slog.Logger
}

// Debouncer buffers events per project and delivers them in coalesced
// batches. Safe for concurrent use; flushes never race the timers.
type Debouncer struct {
	mu sync.Mutex

	debounce time.Duration
	maxBatch int
	onFlush  FlushFunc
	logger   *slog.Logger

	// pending maps project id -> file path -> newest event.
	pending map[string]map[string]model.FileEvent
	timers  map[string]*time.Timer

	closed bool
}

// New creates a debouncer delivering batches to onFlush.
func New(cfg Config, onFlush FlushFunc) *Debouncer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Debouncer{
		debounce: cfg.Debounce,
		maxBatch: cfg.MaxBatchSize,
		onFlush:  onFlush,
		logger:   logger,
		pending:  make(map[string]map[string]model.FileEvent),
		timers:   make(map[string]*time.Timer),
	}
}

// Add buffers an event. The newest event per file wins. Reaching the
// batch cap flushes immediately; otherwise the flush timer restarts.
func (d *Debouncer) Add(event model.FileEvent) {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return
	}

	bucket, ok := d.pending[event.ProjectID]
	if !ok {
		bucket = make(map[string]model.FileEvent)
		d.pending[event.ProjectID] = bucket
	}

	bucket[event.FilePath] = event

	d.stopTimerLocked(event.ProjectID)

	if len(bucket) >= d.maxBatch {
		events := d.takeLocked(event.ProjectID)
		d.mu.Unlock()

		d.deliver(event.ProjectID, events)

		return
	}

	projectID := event.ProjectID
	d.timers[projectID] = time.AfterFunc(d.debounce, func() {
		d.Flush(projectID)
	})

	d.mu.Unlock()
}

// Flush drains and delivers one project's pending events now.
func (d *Debouncer) Flush(projectID string) []model.FileEvent {
	d.mu.Lock()
	d.stopTimerLocked(projectID)
	events := d.takeLocked(projectID)
	d.mu.Unlock()

	d.deliver(projectID, events)

	return events
}

// FlushAll drains every project.
func (d *Debouncer) FlushAll() map[string][]model.FileEvent {
	d.mu.Lock()

	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}

	d.mu.Unlock()

	out := make(map[string][]model.FileEvent)

	for _, id := range ids {
		events := d.Flush(id)
		if len(events) > 0 {
			out[id] = events
		}
	}

	return out
}

// PendingCount reports buffered events for one project, or all
// projects when projectID is empty.
func (d *Debouncer) PendingCount(projectID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if projectID != "" {
		return len(d.pending[projectID])
	}

	total := 0
	for _, bucket := range d.pending {
		total += len(bucket)
	}

	return total
}

// Close cancels all timers and flushes what remains. Events added
// after Close are dropped.
func (d *Debouncer) Close() {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return
	}

	d.closed = true

	for id := range d.timers {
		d.stopTimerLocked(id)
	}

	d.mu.Unlock()

	flushed := d.FlushAll()
	d.logger.Debug("debouncer closed", "projects_flushed", len(flushed))
}

// takeLocked removes and returns a project's bucket as a slice.
func (d *Debouncer) takeLocked(projectID string) []model.FileEvent {
	bucket := d.pending[projectID]
	if len(bucket) == 0 {
		delete(d.pending, projectID)

		return nil
	}

	delete(d.pending, projectID)

	events := make([]model.FileEvent, 0, len(bucket))
	for _, event := range bucket {
		events = append(events, event)
	}

	return events
}

func (d *Debouncer) stopTimerLocked(projectID string) {
	timer, ok := d.timers[projectID]
	if ok {
		timer.Stop()
		delete(d.timers, projectID)
	}
}

func (d *Debouncer) deliver(projectID string, events []model.FileEvent) {
	if len(events) == 0 || d.onFlush == nil {
		return
	}

	d.logger.Debug("flushing events", "project_id", projectID, "count", len(events))
	d.onFlush(projectID, events)
}
