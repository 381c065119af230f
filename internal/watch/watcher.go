// Package watch observes project directories with fsnotify and emits
// file events onto a shared bounded channel.
package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codesync-dev/codesync/internal/model"
)

// DefaultEventBuffer is the capacity of the shared event channel.
// Events arriving while the buffer is full are dropped with a warning.
const DefaultEventBuffer = 1024

// ignoredDirs are directory names excluded from watching anywhere in
// the tree.
var ignoredDirs = map[string]struct{}{
	"node_modules":  {},
	"__pycache__":   {},
	".git":          {},
	"dist":          {},
	"build":         {},
	".next":         {},
	".nuxt":         {},
	"venv":          {},
	"env":           {},
	".venv":         {},
	".pytest_cache": {},
	"coverage":      {},
	".mypy_cache":   {},
	".idea":         {},
	".vscode":       {},
}

// ignoredSuffixes are file suffixes whose events are discarded.
var ignoredSuffixes = []string{
	".pyc", ".pyo", ".swp", ".DS_Store", ".log", ".tmp", ".temp",
}

// projectWatch is one running fsnotify observer.
type projectWatch struct {
	fsw  *fsnotify.Watcher
	root string
	done chan struct{}
}

// Watcher manages per-project directory observers. All observers share
// one event channel consumed by the worker loop.
type Watcher struct {
	mu       sync.Mutex
	projects map[string]*projectWatch
	events   chan model.FileEvent
	logger   *slog.Logger
	closed   bool
}

// New creates a watcher with the given event buffer capacity.
// Non-positive capacity uses DefaultEventBuffer.
func New(buffer int, logger *slog.Logger) *Watcher {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Watcher{
		projects: make(map[string]*projectWatch),
		events:   make(chan model.FileEvent, buffer),
		logger:   logger,
	}
}

// Events returns the shared event channel.
func (w *Watcher) Events() <-chan model.FileEvent {
	return w.events
}

// StartWatching begins observing a project directory recursively.
// Starting an already watched project is a no-op.
func (w *Watcher) StartWatching(projectID, localPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	_, exists := w.projects[projectID]
	if exists {
		w.logger.Warn("already watching project", "project_id", projectID)

		return nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat watch path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch path is not a directory: %s", localPath)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}

	err = addRecursive(fsw, localPath)
	if err != nil {
		closeErr := fsw.Close()
		if closeErr != nil {
			w.logger.Warn("closing fs watcher", "error", closeErr)
		}

		return fmt.Errorf("watch directory tree: %w", err)
	}

	pw := &projectWatch{fsw: fsw, root: localPath, done: make(chan struct{})}
	w.projects[projectID] = pw

	go w.run(projectID, pw)

	w.logger.Info("started watching project", "project_id", projectID, "path", localPath)

	return nil
}

// StopWatching stops observing a project directory.
func (w *Watcher) StopWatching(projectID string) error {
	w.mu.Lock()

	pw, ok := w.projects[projectID]
	if !ok {
		w.mu.Unlock()
		w.logger.Warn("not watching project", "project_id", projectID)

		return fmt.Errorf("project %s is not watched", projectID)
	}

	delete(w.projects, projectID)
	w.mu.Unlock()

	err := pw.fsw.Close()
	<-pw.done

	w.logger.Info("stopped watching project", "project_id", projectID)

	if err != nil {
		return fmt.Errorf("close fs watcher: %w", err)
	}

	return nil
}

// IsWatching reports whether a project directory is observed.
func (w *Watcher) IsWatching(projectID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.projects[projectID]

	return ok
}

// WatchedProjects returns the ids of all observed projects.
func (w *Watcher) WatchedProjects() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.projects))
	for id := range w.projects {
		ids = append(ids, id)
	}

	return ids
}

// Close stops all observers and closes the event channel.
func (w *Watcher) Close() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()

		return nil
	}

	w.closed = true

	watches := make([]*projectWatch, 0, len(w.projects))
	for id, pw := range w.projects {
		watches = append(watches, pw)
		delete(w.projects, id)
	}

	w.mu.Unlock()

	for _, pw := range watches {
		err := pw.fsw.Close()
		if err != nil {
			w.logger.Warn("closing fs watcher", "error", err)
		}

		<-pw.done
	}

	close(w.events)

	return nil
}

// run drains one observer until its channels close.
func (w *Watcher) run(projectID string, pw *projectWatch) {
	defer close(pw.done)

	for {
		select {
		case event, ok := <-pw.fsw.Events:
			if !ok {
				return
			}

			w.handle(projectID, pw, event)
		case err, ok := <-pw.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("fs watcher error", "project_id", projectID, "error", err)
		}
	}
}

func (w *Watcher) handle(projectID string, pw *projectWatch, event fsnotify.Event) {
	if ShouldIgnore(event.Name) {
		return
	}

	kind, ok := eventKind(event)
	if !ok {
		return
	}

	// New directories join the watch set; directories emit no file events.
	if kind == model.EventCreated {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			addErr := addRecursive(pw.fsw, event.Name)
			if addErr != nil {
				w.logger.Warn("watching new directory",
					"project_id", projectID, "path", event.Name, "error", addErr)
			}

			return
		}
	}

	w.emit(model.FileEvent{
		Kind:      kind,
		ProjectID: projectID,
		FilePath:  event.Name,
		Timestamp: time.Now(),
	})
}

// emit delivers an event without blocking; a full buffer drops it.
func (w *Watcher) emit(event model.FileEvent) {
	select {
	case w.events <- event:
		w.logger.Debug("emitted file event",
			"kind", event.Kind, "project_id", event.ProjectID, "path", event.FilePath)
	default:
		w.logger.Warn("event channel full, dropping event",
			"project_id", event.ProjectID, "path", event.FilePath)
	}
}

func eventKind(event fsnotify.Event) (model.EventKind, bool) {
	switch {
	case event.Op.Has(fsnotify.Create):
		return model.EventCreated, true
	case event.Op.Has(fsnotify.Write):
		return model.EventModified, true
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		return model.EventDeleted, true
	default:
		return "", false
	}
}

// ShouldIgnore reports whether a path is excluded from watching, by
// directory name anywhere in the path or by file suffix.
func ShouldIgnore(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		_, ok := ignoredDirs[part]
		if ok {
			return true
		}
	}

	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}

	return false
}

// addRecursive registers root and every non-ignored subdirectory.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		_, ignored := ignoredDirs[d.Name()]
		if ignored {
			return filepath.SkipDir
		}

		return fsw.Add(path)
	})
}
