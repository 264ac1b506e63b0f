package app_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/sphinxlink/internal/observe"
	client "github.com/MrWong99/sphinxlink/internal/sphinx"
	"github.com/MrWong99/sphinxlink/internal/sphinx/sphinxtest"
	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
	sphinxprov "github.com/MrWong99/sphinxlink/pkg/provider/stt/sphinx"
)

var codec = wire.Codec{Order: binary.LittleEndian}

// pcm returns d of 8 kHz mono PCM at constant amplitude amp.
func pcm(amp int16, d time.Duration) []byte {
	n := int(int64(d) * 8000 / int64(time.Second))
	b := make([]byte, n*2)
	for i := 0; i < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amp))
	}
	return b
}

func concat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// histogramCount returns how many observations metric name recorded with
// attribute key=value.
func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var n uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			h, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a float64 histogram", name)
			}
			for _, dp := range h.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					n += dp.Count
				}
			}
		}
	}
	return n
}

// counterValue returns the int64 sum of metric name with attribute key=value.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var n int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					n += dp.Value
				}
			}
		}
	}
	return n
}

// newSphinxProvider returns a real provider talking to srv.
func newSphinxProvider(t *testing.T, srv *sphinxtest.Server) *sphinxprov.Provider {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Addr = srv.Host()
	cfg.Port = srv.Port()
	cfg.ByteOrder = binary.LittleEndian
	p, err := sphinxprov.New(cfg)
	if err != nil {
		t.Fatalf("sphinx.New: %v", err)
	}
	return p
}
