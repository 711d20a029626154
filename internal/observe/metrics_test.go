package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordChunk(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, 2.0, false)
	m.RecordChunk(ctx, 2.0, false)
	m.RecordChunk(ctx, 0.7, true)

	rm := collect(t, reader)

	sent := findMetric(rm, "intervox.chunks.sent")
	if sent == nil {
		t.Fatal("intervox.chunks.sent not found")
	}
	sum, ok := sent.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", sent.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("chunks sent total = %d, want 3", total)
	}

	dur := findMetric(rm, "intervox.chunk.duration")
	if dur == nil {
		t.Fatal("intervox.chunk.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", dur.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("chunk duration observations = %d, want 3", count)
	}
}

func TestRecordChunkFinalAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordChunk(context.Background(), 1.0, true)

	rm := collect(t, reader)
	sent := findMetric(rm, "intervox.chunks.sent")
	if sent == nil {
		t.Fatal("intervox.chunks.sent not found")
	}
	sum := sent.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(sum.DataPoints))
	}
	v, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("final"))
	if !ok || !v.AsBool() {
		t.Error("sent chunk missing final=true attribute")
	}
}

func TestRecordConnectAttemptStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnectAttempt(ctx, nil)
	m.RecordConnectAttempt(ctx, errors.New("dial refused"))

	rm := collect(t, reader)
	attempts := findMetric(rm, "intervox.connect.attempts")
	if attempts == nil {
		t.Fatal("intervox.connect.attempts not found")
	}
	sum := attempts.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d status series, want 2", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		if dp.Value != 1 {
			t.Errorf("status series value = %d, want 1", dp.Value)
		}
	}
}

func TestRecordStateTransition(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordStateTransition(context.Background(), "ai_speaking", "listening_user")

	rm := collect(t, reader)
	trans := findMetric(rm, "intervox.state.transitions")
	if trans == nil {
		t.Fatal("intervox.state.transitions not found")
	}
	sum := trans.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(sum.DataPoints))
	}
	from, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("from"))
	to, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("to"))
	if from.AsString() != "ai_speaking" || to.AsString() != "listening_user" {
		t.Errorf("transition attributes = %s -> %s", from.AsString(), to.AsString())
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordBackendRequest(context.Background(), "end_session", "200", 0.12)

	rm := collect(t, reader)
	if findMetric(rm, "intervox.backend.requests") == nil {
		t.Error("intervox.backend.requests not found")
	}
	dur := findMetric(rm, "intervox.backend.request.duration")
	if dur == nil {
		t.Fatal("intervox.backend.request.duration not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Error("expected one latency observation")
	}
}

func TestQueueDepthUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -2)

	rm := collect(t, reader)
	depth := findMetric(rm, "intervox.playback.queue_depth")
	if depth == nil {
		t.Fatal("intervox.playback.queue_depth not found")
	}
	sum := depth.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("queue depth = %+v, want single point of 1", sum.DataPoints)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
