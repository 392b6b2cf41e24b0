package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SessionMetricsMeterName is the name used for the session metrics meter
	SessionMetricsMeterName = "github.com/sentinelmarket/sentinel-sync/sessions"

	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/sentinelmarket/sentinel-sync/sync"
)

// SessionMetrics holds the OpenTelemetry instruments for mounted view sessions
type SessionMetrics struct {
	activeSessions metric.Int64UpDownCounter
}

// NewSessionMetrics creates a new SessionMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSessionMetrics(provider metric.MeterProvider) (*SessionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SessionMetricsMeterName)

	activeSessions, err := meter.Int64UpDownCounter(
		"sentinel_sync_active_sessions",
		metric.WithDescription("Number of mounted view sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		activeSessions: activeSessions,
	}, nil
}

// AddActiveSessions adjusts the number of mounted sessions of a view by delta
func (m *SessionMetrics) AddActiveSessions(ctx context.Context, viewID string, delta int64) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, delta, metric.WithAttributes(attribute.String("view", viewID)))
}

// SyncMetrics holds the OpenTelemetry instruments for refresh cycles
type SyncMetrics struct {
	cycleDuration  metric.Float64Histogram
	sourceOutcomes metric.Int64Counter
	retryAttempts  metric.Int64Counter
	skippedCycles  metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"sentinel_sync_cycle_duration_seconds",
		metric.WithDescription("Duration of refresh cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	sourceOutcomes, err := meter.Int64Counter(
		"sentinel_sync_source_reads_total",
		metric.WithDescription("Number of settled source reads by outcome"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter(
		"sentinel_sync_source_attempt_failures_total",
		metric.WithDescription("Number of failed attempts of source reads, retried or final"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	skippedCycles, err := meter.Int64Counter(
		"sentinel_sync_skipped_cycles_total",
		metric.WithDescription("Number of refresh triggers dropped because a cycle was in flight"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration:  cycleDuration,
		sourceOutcomes: sourceOutcomes,
		retryAttempts:  retryAttempts,
		skippedCycles:  skippedCycles,
	}, nil
}

// RecordCycleDuration records the duration of a refresh cycle of a view
func (m *SyncMetrics) RecordCycleDuration(ctx context.Context, viewID string, duration time.Duration, live bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("view", viewID),
		attribute.Bool("live", live),
	}

	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSourceOutcome records one settled source read
func (m *SyncMetrics) RecordSourceOutcome(ctx context.Context, viewID, sourceID string, success bool) {
	if m == nil || m.sourceOutcomes == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("view", viewID),
		attribute.String("source", sourceID),
		attribute.Bool("success", success),
	}

	m.sourceOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFailedAttempt records one failed attempt of a source read
func (m *SyncMetrics) RecordFailedAttempt(ctx context.Context, viewID, sourceID string, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("view", viewID),
		attribute.String("source", sourceID),
		attribute.Int("attempt", attempt),
	}

	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSkippedCycle records a trigger dropped because a cycle was in flight
func (m *SyncMetrics) RecordSkippedCycle(ctx context.Context, viewID, trigger string) {
	if m == nil || m.skippedCycles == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("view", viewID),
		attribute.String("trigger", trigger),
	}

	m.skippedCycles.Add(ctx, 1, metric.WithAttributes(attrs...))
}
