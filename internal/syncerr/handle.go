package syncerr

import (
	"context"
	"log/slog"
)

// Handled is the structured result of classifying and logging a failure.
type Handled struct {
	Category    Category
	Message     string
	UserMessage string
	Retryable   bool
	Context     map[string]any
}

// Handle classifies err, logs it at classifier-driven severity, and
// returns the structured result. Expected failures (network, breaker)
// log at warn; everything else at error.
func Handle(ctx context.Context, logger *slog.Logger, err error, errCtx map[string]any) Handled {
	cat := Classify(err)

	attrs := make([]any, 0, 2*len(errCtx)+4)
	attrs = append(attrs, "category", string(cat), "error", err.Error())

	for k, v := range errCtx {
		attrs = append(attrs, k, v)
	}

	if logger != nil {
		if LogsFullTrace(cat) {
			logger.ErrorContext(ctx, "sync error", attrs...)
		} else {
			logger.WarnContext(ctx, "sync error", attrs...)
		}
	}

	return Handled{
		Category:    cat,
		Message:     err.Error(),
		UserMessage: UserMessage(cat, err),
		Retryable:   IsRetryable(cat),
		Context:     errCtx,
	}
}
