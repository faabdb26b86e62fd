package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// IngestionMetrics groups the instruments recorded by the ingestion pipeline.
type IngestionMetrics struct {
	uploadsTotal     metric.Int64Counter
	uploadDuration   metric.Float64Histogram
	activeUploads    metric.Int64UpDownCounter
	filesTotal       metric.Int64Counter
	recordsIngested  metric.Int64Counter
	recordsFailed    metric.Int64Counter
	versionsCreated  metric.Int64Counter
	rollbacksTotal   metric.Int64Counter
	observerFailures metric.Int64Counter
	observerCount    metric.Int64UpDownCounter
	unmappedLabels   metric.Int64Counter
}

// NewIngestionMetrics creates the instruments on meter.
func NewIngestionMetrics(meter metric.Meter) (*IngestionMetrics, error) {
	m := &IngestionMetrics{}
	var err error

	if m.uploadsTotal, err = meter.Int64Counter("uploads_total",
		metric.WithDescription("Upload batches finished, by final status")); err != nil {
		return nil, err
	}
	if m.uploadDuration, err = meter.Float64Histogram("upload_duration_seconds",
		metric.WithDescription("Wall time of one upload batch"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.activeUploads, err = meter.Int64UpDownCounter("uploads_active",
		metric.WithDescription("Upload batches currently processing")); err != nil {
		return nil, err
	}
	if m.filesTotal, err = meter.Int64Counter("upload_files_total",
		metric.WithDescription("Files processed, by outcome")); err != nil {
		return nil, err
	}
	if m.recordsIngested, err = meter.Int64Counter("records_ingested_total",
		metric.WithDescription("Financial records written by ingestion")); err != nil {
		return nil, err
	}
	if m.recordsFailed, err = meter.Int64Counter("records_failed_total",
		metric.WithDescription("Records skipped, by error kind")); err != nil {
		return nil, err
	}
	if m.versionsCreated, err = meter.Int64Counter("data_versions_created_total",
		metric.WithDescription("Snapshots taken before an overwrite, by reason")); err != nil {
		return nil, err
	}
	if m.rollbacksTotal, err = meter.Int64Counter("rollbacks_total",
		metric.WithDescription("Rollbacks performed")); err != nil {
		return nil, err
	}
	if m.observerFailures, err = meter.Int64Counter("progress_delivery_failures_total",
		metric.WithDescription("Progress events an observer failed to accept")); err != nil {
		return nil, err
	}
	if m.observerCount, err = meter.Int64UpDownCounter("progress_observers",
		metric.WithDescription("Currently subscribed progress observers")); err != nil {
		return nil, err
	}
	if m.unmappedLabels, err = meter.Int64Counter("unmapped_labels_total",
		metric.WithDescription("Line item labels without a canonical mapping")); err != nil {
		return nil, err
	}
	return m, nil
}

// NoopIngestionMetrics returns instruments that record nothing.
func NoopIngestionMetrics() *IngestionMetrics {
	m, _ := NewIngestionMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

func (m *IngestionMetrics) UploadStarted(ctx context.Context) {
	m.activeUploads.Add(ctx, 1)
}

func (m *IngestionMetrics) UploadFinished(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.activeUploads.Add(ctx, -1)
	m.uploadsTotal.Add(ctx, 1, attrs)
	m.uploadDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *IngestionMetrics) FileProcessed(ctx context.Context, outcome string) {
	m.filesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *IngestionMetrics) RecordIngested(ctx context.Context) {
	m.recordsIngested.Add(ctx, 1)
}

func (m *IngestionMetrics) RecordFailed(ctx context.Context, kind string) {
	m.recordsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *IngestionMetrics) VersionCreated(ctx context.Context, reason string) {
	m.versionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *IngestionMetrics) RollbackPerformed(ctx context.Context) {
	m.rollbacksTotal.Add(ctx, 1)
}

func (m *IngestionMetrics) DeliveryFailed(ctx context.Context) {
	m.observerFailures.Add(ctx, 1)
}

func (m *IngestionMetrics) ObserversChanged(ctx context.Context, delta int64) {
	m.observerCount.Add(ctx, delta)
}

func (m *IngestionMetrics) UnmappedLabels(ctx context.Context, n int) {
	if n > 0 {
		m.unmappedLabels.Add(ctx, int64(n))
	}
}
