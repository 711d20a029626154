// Package observe provides observability primitives for Intervox: OpenTelemetry
// metrics with a Prometheus exporter bridge so the local listener can serve a
// standard /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Intervox metrics.
const meterName = "github.com/intervox/intervox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// ChunksSent counts recorded chunks delivered to the backend. Use with
	// attribute.Bool("final", ...).
	ChunksSent metric.Int64Counter

	// ChunksDropped counts chunks discarded because the transport was not
	// connected at emission time.
	ChunksDropped metric.Int64Counter

	// SegmentsPlayed counts interviewer segments played to completion.
	SegmentsPlayed metric.Int64Counter

	// PlaybackFailures counts segments skipped because playback failed.
	PlaybackFailures metric.Int64Counter

	// ConnectAttempts counts WebSocket dial attempts. Use with
	// attribute.String("status", "ok"|"error").
	ConnectAttempts metric.Int64Counter

	// StateTransitions counts conversation state changes. Use with
	// attribute.String("from", ...), attribute.String("to", ...).
	StateTransitions metric.Int64Counter

	// BackendRequests counts REST calls to the interview backend. Use with
	// attribute.String("endpoint", ...), attribute.String("status", ...).
	BackendRequests metric.Int64Counter

	// --- Histograms ---

	// ChunkDuration tracks the audio length of emitted chunks in seconds.
	ChunkDuration metric.Float64Histogram

	// SegmentDuration tracks the playback length of received segments.
	SegmentDuration metric.Float64Histogram

	// BackendRequestDuration tracks REST call latency by endpoint.
	BackendRequestDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of segments waiting in the playback queue.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// chunk cadence, playback lengths, and backend round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("intervox.chunks.sent",
		metric.WithDescription("Total recorded chunks delivered to the backend."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("intervox.chunks.dropped",
		metric.WithDescription("Total chunks discarded because the transport was disconnected."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("intervox.segments.played",
		metric.WithDescription("Total interviewer segments played to completion."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("intervox.playback.failures",
		metric.WithDescription("Total segments skipped due to playback errors."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("intervox.connect.attempts",
		metric.WithDescription("Total WebSocket dial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("intervox.state.transitions",
		metric.WithDescription("Total conversation state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("intervox.backend.requests",
		metric.WithDescription("Total backend REST requests by endpoint and status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ChunkDuration, err = m.Float64Histogram("intervox.chunk.duration",
		metric.WithDescription("Audio length of emitted chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("intervox.segment.duration",
		metric.WithDescription("Playback length of received interviewer segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequestDuration, err = m.Float64Histogram("intervox.backend.request.duration",
		metric.WithDescription("Backend REST request latency by endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("intervox.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("intervox.playback.queue_depth",
		metric.WithDescription("Number of segments waiting in the playback queue."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordChunk records a sent chunk with its audio length.
func (m *Metrics) RecordChunk(ctx context.Context, seconds float64, final bool) {
	m.ChunksSent.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
	m.ChunkDuration.Record(ctx, seconds)
}

// RecordConnectAttempt records one dial attempt with its outcome.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStateTransition records a conversation state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBackendRequest records one REST call with its latency and outcome.
func (m *Metrics) RecordBackendRequest(ctx context.Context, endpoint, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	)
	m.BackendRequests.Add(ctx, 1, attrs)
	m.BackendRequestDuration.Record(ctx, seconds, attrs)
}
