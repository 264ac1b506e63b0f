package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordRequest(context.Background(), "data", 16)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		// Depending on the translation strategy dots may be kept or escaped.
		name := strings.ReplaceAll(f.GetName(), ".", "_")
		if strings.HasPrefix(name, "sphinxlink_requests") {
			found = true
		}
	}
	if !found {
		t.Error("sphinxlink_requests not exported to the registry")
	}
}

func TestProviderConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := ProviderConfig{SampleRatio: tt.ratio}.sampler().Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("ratio %v: sampler = %q, want it to contain %q", tt.ratio, desc, tt.want)
		}
	}
}

func TestProviderConfig_ResourceServiceName(t *testing.T) {
	res, err := ProviderConfig{ServiceVersion: "1.2.3"}.resource(context.Background())
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", attrs["service.name"], DefaultServiceName)
	}
	if attrs["service.version"] != "1.2.3" {
		t.Errorf("service.version = %q, want 1.2.3", attrs["service.version"])
	}
}
