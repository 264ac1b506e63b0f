package observe

import (
	"context"
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

// counterValue returns the value of the int64 sum data point of metric name
// whose attribute key equals value.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

// histogramCount returns the sample count of the data point of metric name
// whose attribute key equals value; an empty key matches any point.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	for _, dp := range hist.DataPoints {
		if key == "" {
			return dp.Count
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Count
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRequest(ctx, "data", 328)
	m.RecordRequest(ctx, "data", 8)
	m.RecordRequest(ctx, "grammar", 14)
	m.RecordSuppressed(ctx, "finish")
	m.RecordResponse(ctx, "data")
	m.RecordResponse(ctx, "data")
	m.RecordSessionError(ctx, "drain_timeout")
	m.RecordUtterance(ctx, "speech_start")
	m.RecordUtterance(ctx, "end_of_utterance")
	m.RecordGatewayConnection(ctx, "ok")
	m.RecordGatewayConnection(ctx, "rejected")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"sphinxlink.requests", "type", "data", 2},
		{"sphinxlink.requests", "type", "grammar", 1},
		{"sphinxlink.request.bytes", "type", "data", 336},
		{"sphinxlink.request.bytes", "type", "grammar", 14},
		{"sphinxlink.requests.suppressed", "type", "finish", 1},
		{"sphinxlink.responses", "type", "data", 2},
		{"sphinxlink.session.errors", "kind", "drain_timeout", 1},
		{"sphinxlink.utterances", "event", "speech_start", 1},
		{"sphinxlink.utterances", "event", "end_of_utterance", 1},
		{"sphinxlink.gateway.connections", "status", "ok", 1},
		{"sphinxlink.gateway.connections", "status", "rejected", 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, rm, tt.name, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.name, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrain(ctx, 0.2, "ok")
	m.RecordDrain(ctx, 2, "timeout")
	m.RecordDrain(ctx, 0.01, "ok")
	m.RecordRecognition(ctx, 1.5, "no_result")

	rm := collect(t, reader)
	if n := histogramCount(t, rm, "sphinxlink.drain.duration", "status", "ok"); n != 2 {
		t.Errorf("ok drains = %d, want 2", n)
	}
	if n := histogramCount(t, rm, "sphinxlink.drain.duration", "status", "timeout"); n != 1 {
		t.Errorf("timed out drains = %d, want 1", n)
	}
	if n := histogramCount(t, rm, "sphinxlink.recognition.duration", "status", "no_result"); n != 1 {
		t.Errorf("no_result recognitions = %d, want 1", n)
	}

	hist := findMetric(rm, "sphinxlink.drain.duration").Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Bounds; len(got) != len(latencyBuckets) {
		t.Errorf("drain buckets = %v, want %v", got, latencyBuckets)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, d := range []int64{1, 1, -1, 1} {
		m.ActiveSessions.Add(ctx, d)
	}

	met := findMetric(collect(t, reader), "sphinxlink.active_sessions")
	if met == nil {
		t.Fatal("sphinxlink.active_sessions not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || sum.IsMonotonic {
		t.Fatalf("active_sessions = %T (monotonic %v), want a non-monotonic sum", met.Data, sum.IsMonotonic)
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
