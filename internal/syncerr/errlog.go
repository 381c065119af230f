package syncerr

import (
	"context"
	"log/slog"
	"time"

	"github.com/codesync-dev/codesync/internal/model"
)

// defaultRecentErrorsLimit bounds RecentErrors queries.
const defaultRecentErrorsLimit = 10

// ErrorLogStore persists sync error rows.
type ErrorLogStore interface {
	InsertErrorLog(ctx context.Context, entry model.ErrorLogEntry) (string, error)
	UpdateErrorLogResolved(ctx context.Context, id string) error
	ErrorLogByProject(ctx context.Context, projectID string, limit int) ([]model.ErrorLogEntry, error)
}

// Logger persists classified errors without ever failing the sync that
// produced them.
type Logger struct {
	store  ErrorLogStore
	logger *slog.Logger
}

// NewLogger creates an error logger backed by the given store.
func NewLogger(store ErrorLogStore, logger *slog.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log writes one error row. Returns the row id, or empty when
// persistence itself failed (persistence failures are swallowed).
func (l *Logger) Log(ctx context.Context, projectID string, cat Category, err error, filePath string, retryCount int) string {
	entry := model.ErrorLogEntry{
		ProjectID:    projectID,
		ErrorType:    string(cat),
		ErrorMessage: err.Error(),
		FilePath:     filePath,
		RetryCount:   retryCount,
		OccurredAt:   time.Now().UTC(),
	}

	id, insertErr := l.store.InsertErrorLog(ctx, entry)
	if insertErr != nil {
		l.logger.WarnContext(ctx, "failed to persist sync error", "error", insertErr)

		return ""
	}

	return id
}

// MarkResolved flags an error row as resolved.
func (l *Logger) MarkResolved(ctx context.Context, id string) {
	err := l.store.UpdateErrorLogResolved(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to mark error resolved", "id", id, "error", err)
	}
}

// Recent returns the newest error rows for a project, most recent
// first. A non-positive limit uses the default.
func (l *Logger) Recent(ctx context.Context, projectID string, limit int) ([]model.ErrorLogEntry, error) {
	if limit <= 0 {
		limit = defaultRecentErrorsLimit
	}

	return l.store.ErrorLogByProject(ctx, projectID, limit)
}
