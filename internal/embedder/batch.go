package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codesync-dev/codesync/internal/ratelimit"
	"github.com/codesync-dev/codesync/internal/syncerr"
)

const (
	// DefaultBatchSize is the default number of texts per provider call.
	DefaultBatchSize = 50

	// DefaultMaxRetries bounds retries per batch.
	DefaultMaxRetries = 3
)

// BatchConfig tunes a BatchEmbedder. Zero values use the defaults.
type BatchConfig struct {
	BatchSize  int
	MaxRetries int

	// Limiter admits provider calls. Nil creates a default limiter.
	Limiter *ratelimit.Limiter

	// Logger receives retry and fallback events. Nil disables logging.
	Logger *slog.Logger
}

// BatchEmbedder partitions texts into batches and embeds each through
// the rate limiter with retry and per-text fallback. Failed texts are
// represented by a nil vector at the same index.
type BatchEmbedder struct {
	provider   Provider
	limiter    *ratelimit.Limiter
	batchSize  int
	maxRetries int
	logger     *slog.Logger

	// sleep is overridable for tests; production is a context-aware sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatch creates a batch embedder over the given provider.
func NewBatch(provider Provider, cfg BatchConfig) *BatchEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultRateLimit, ratelimit.DefaultTimeWindow)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &BatchEmbedder{
		provider:   provider,
		limiter:    cfg.Limiter,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// EmbedAll embeds texts in batches, returning one vector per input in
// input order. A batch that keeps failing after retries falls back to
// per-text embedding; texts that still fail get a nil vector.
func (b *BatchEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))

	totalBatches := (len(texts) + b.batchSize - 1) / b.batchSize

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[start:end]
		batchNum := start/b.batchSize + 1

		vectors, err := b.embedBatchWithRetry(ctx, batch, batchNum, totalBatches)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			b.logger.WarnContext(ctx, "batch failed after retries, falling back to per-text embedding",
				"batch", batchNum, "error", err)

			vectors = b.embedIndividually(ctx, batch)
		}

		out = append(out, vectors...)
	}

	return out, nil
}

// embedBatchWithRetry embeds one batch, retrying retryable failures
// with exponential backoff (2^n seconds). Non-retryable failures
// surface immediately.
func (b *BatchEmbedder) embedBatchWithRetry(
	ctx context.Context, batch []string, batchNum, totalBatches int,
) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second

			b.logger.WarnContext(ctx, "retrying embedding batch",
				"batch", batchNum, "of", totalBatches,
				"attempt", attempt, "max", b.maxRetries, "wait", wait)

			sleepErr := b.sleep(ctx, wait)
			if sleepErr != nil {
				return nil, sleepErr
			}
		}

		acquireErr := b.limiter.Acquire(ctx)
		if acquireErr != nil {
			return nil, acquireErr
		}

		vectors, err := b.provider.Embed(ctx, batch)
		if err == nil {
			return vectors, nil
		}

		lastErr = err

		if !syncerr.IsRetryable(syncerr.Classify(err)) {
			return nil, err
		}
	}

	return nil, lastErr
}

// embedIndividually embeds texts one at a time with the same retry
// policy as batch calls; texts that still fail become nil vectors at
// the same index.
func (b *BatchEmbedder) embedIndividually(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		vector, err := b.embedOneWithRetry(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}

			b.logger.WarnContext(ctx, "individual embedding failed", "index", i, "error", err)

			continue
		}

		out[i] = vector
	}

	return out
}

// embedOneWithRetry mirrors the batch retry loop for a single text.
func (b *BatchEmbedder) embedOneWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second

			sleepErr := b.sleep(ctx, wait)
			if sleepErr != nil {
				return nil, sleepErr
			}
		}

		acquireErr := b.limiter.Acquire(ctx)
		if acquireErr != nil {
			return nil, acquireErr
		}

		vectors, err := b.provider.Embed(ctx, []string{text})
		if err == nil && len(vectors) == 1 {
			return vectors[0], nil
		}

		if err == nil {
			return nil, fmt.Errorf("provider returned %d vectors for one text", len(vectors))
		}

		lastErr = err

		if !syncerr.IsRetryable(syncerr.Classify(err)) {
			return nil, err
		}
	}

	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
