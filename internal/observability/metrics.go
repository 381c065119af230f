package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricSyncsTotal    = "codesync.syncs.total"
	metricSyncDuration  = "codesync.sync.duration.seconds"
	metricChunksTotal   = "codesync.chunks.total"
	metricErrorsTotal   = "codesync.errors.total"
	metricInflightSyncs = "codesync.inflight.syncs"

	attrProject   = "project_id"
	attrTrigger   = "trigger"
	attrStatus    = "status"
	attrChunkOp   = "op"
	attrErrorKind = "category"

	statusError = "error"

	chunkOpAdded   = "added"
	chunkOpDeleted = "deleted"
)

// syncDurationBoundaries covers 100ms quick re-syncs up to 30-minute
// full scans of large repositories.
var syncDurationBoundaries = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}

// SyncMetrics holds the OTel instruments for sync throughput, errors,
// and duration.
type SyncMetrics struct {
	syncsTotal    metric.Int64Counter
	syncDuration  metric.Float64Histogram
	chunksTotal   metric.Int64Counter
	errorsTotal   metric.Int64Counter
	inflightSyncs metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync metric instruments from the given meter.
func NewSyncMetrics(mt metric.Meter) (*SyncMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &SyncMetrics{
		syncsTotal:    b.counter(metricSyncsTotal, "Total number of sync jobs", "{sync}"),
		syncDuration:  b.histogram(metricSyncDuration, "Sync job duration in seconds", "s", syncDurationBoundaries...),
		chunksTotal:   b.counter(metricChunksTotal, "Total chunks written or removed", "{chunk}"),
		errorsTotal:   b.counter(metricErrorsTotal, "Total classified sync errors", "{error}"),
		inflightSyncs: b.upDownCounter(metricInflightSyncs, "Number of in-flight sync jobs", "{sync}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// RecordSync records one completed sync job.
func (sm *SyncMetrics) RecordSync(ctx context.Context, projectID, trigger, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrProject, projectID),
		attribute.String(attrTrigger, trigger),
		attribute.String(attrStatus, status),
	)

	sm.syncsTotal.Add(ctx, 1, attrs)
	sm.syncDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordChunks records chunk reconciliation counts for one sync.
func (sm *SyncMetrics) RecordChunks(ctx context.Context, projectID string, added, deleted int) {
	if added > 0 {
		sm.chunksTotal.Add(ctx, int64(added), metric.WithAttributes(
			attribute.String(attrProject, projectID),
			attribute.String(attrChunkOp, chunkOpAdded),
		))
	}

	if deleted > 0 {
		sm.chunksTotal.Add(ctx, int64(deleted), metric.WithAttributes(
			attribute.String(attrProject, projectID),
			attribute.String(attrChunkOp, chunkOpDeleted),
		))
	}
}

// RecordError records one classified sync error.
func (sm *SyncMetrics) RecordError(ctx context.Context, projectID, category string) {
	sm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProject, projectID),
		attribute.String(attrErrorKind, category),
	))
}

// TrackInflight increments the in-flight gauge and returns a function
// to decrement it.
func (sm *SyncMetrics) TrackInflight(ctx context.Context, projectID string) func() {
	attrs := metric.WithAttributes(attribute.String(attrProject, projectID))
	sm.inflightSyncs.Add(ctx, 1, attrs)

	return func() {
		sm.inflightSyncs.Add(ctx, -1, attrs)
	}
}

// WorkerGauges registers observable gauges fed by worker snapshots.
type WorkerGauges struct {
	watchedProjects metric.Int64ObservableGauge
	pendingEvents   metric.Int64ObservableGauge
}

// NewWorkerGauges registers gauges observing the given snapshot
// functions on every collection.
func NewWorkerGauges(mt metric.Meter, watched, pending func() int) (*WorkerGauges, error) {
	b := newMetricBuilder(mt)

	wg := &WorkerGauges{
		watchedProjects: b.gauge("codesync.watched.projects", "Directories under observation", "{project}"),
		pendingEvents:   b.gauge("codesync.pending.events", "Buffered events and queued jobs", "{event}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(wg.watchedProjects, int64(watched()))
		observer.ObserveInt64(wg.pendingEvents, int64(pending()))

		return nil
	}, wg.watchedProjects, wg.pendingEvents)
	if err != nil {
		return nil, err
	}

	return wg, nil
}
