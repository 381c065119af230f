// Package parallel maps an operation over a set of files with bounded
// concurrency. One file's failure never cancels the others; every
// completion emits a progress record.
package parallel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxWorkers is the default concurrency bound.
const DefaultMaxWorkers = 5

// Result is the outcome of processing one file.
type Result[T any] struct {
	FilePath string
	Success  bool
	Value    T
	Err      error
	Duration time.Duration
}

// Progress is emitted after each file completes.
type Progress struct {
	Total     int
	Processed int
	Failed    int
	Current   string
	StartTime time.Time
	Rate      float64
	ETA       time.Duration
}

// String renders a short human-readable progress line.
func (p Progress) String() string {
	return fmt.Sprintf("%s/%s files (%.1f/s, eta %s)",
		humanize.Comma(int64(p.Processed)),
		humanize.Comma(int64(p.Total)),
		p.Rate,
		p.ETA.Round(time.Second))
}

// Config tunes a parallel map.
type Config struct {
	// MaxWorkers bounds concurrent file operations. Zero uses the default.
	MaxWorkers int

	// Logger receives debug progress lines. Nil disables logging.
	Logger *slog.Logger

	// OnProgress receives a record after each completion. May be nil.
	OnProgress func(Progress)
}

// Map runs fn over files with bounded concurrency and returns one
// result per file in input order. Context cancellation stops admitting
// new files; results for unstarted files carry the context error.
func Map[T any](ctx context.Context, cfg Config, files []string, fn func(context.Context, string) (T, error)) []Result[T] {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	results := make([]Result[T], len(files))
	sem := semaphore.NewWeighted(int64(workers))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
		failed    int
	)

	start := time.Now()

	for i, file := range files {
		acquireErr := sem.Acquire(ctx, 1)
		if acquireErr != nil {
			results[i] = Result[T]{FilePath: file, Err: acquireErr}

			continue
		}

		wg.Add(1)

		go func(idx int, path string) {
			defer wg.Done()
			defer sem.Release(1)

			opStart := time.Now()
			value, err := fn(ctx, path)
			elapsed := time.Since(opStart)

			results[idx] = Result[T]{
				FilePath: path,
				Success:  err == nil,
				Value:    value,
				Err:      err,
				Duration: elapsed,
			}

			mu.Lock()
			processed++

			if err != nil {
				failed++
			}

			progress := snapshot(len(files), processed, failed, path, start)
			mu.Unlock()

			if cfg.Logger != nil {
				cfg.Logger.DebugContext(ctx, "file processed", "file", path, "progress", progress.String())
			}

			if cfg.OnProgress != nil {
				cfg.OnProgress(progress)
			}
		}(i, file)
	}

	wg.Wait()

	return results
}

// snapshot computes rate and ETA from completions so far.
func snapshot(total, processed, failed int, current string, start time.Time) Progress {
	elapsed := time.Since(start)

	var rate float64
	if elapsed > 0 {
		rate = float64(processed) / elapsed.Seconds()
	}

	var eta time.Duration
	if rate > 0 {
		remaining := total - processed
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}

	return Progress{
		Total:     total,
		Processed: processed,
		Failed:    failed,
		Current:   current,
		StartTime: start,
		Rate:      rate,
		ETA:       eta,
	}
}
