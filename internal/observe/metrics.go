// Package observe provides application-wide observability primitives for
// sphinxlink: OpenTelemetry metrics, tracing, trace-aware structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the admin server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sphinxlink metrics.
const meterName = "github.com/MrWong99/sphinxlink"

// Metrics holds the instruments of every subsystem. The Record helpers fix
// the attribute keys; record through them where one exists.
type Metrics struct {
	// --- Recognizer protocol ---

	// Requests counts requests written to the recognizer. Use with attribute:
	//   attribute.String("type", ...)
	Requests metric.Int64Counter

	// RequestBytes counts encoded request bytes, headers included. Use with
	// attribute: attribute.String("type", ...)
	RequestBytes metric.Int64Counter

	// SuppressedRequests counts end-of-utterance requests dropped because the
	// exchange had already ended. Use with attribute: attribute.String("type", ...)
	SuppressedRequests metric.Int64Counter

	// Responses counts fully decoded responses by the type of the request
	// they answer. Use with attribute: attribute.String("type", ...)
	Responses metric.Int64Counter

	// DrainDuration tracks how long catch-up drains block. Use with
	// attribute: attribute.String("status", ...)
	DrainDuration metric.Float64Histogram

	// --- Sessions ---

	// SessionErrors counts fatal session errors. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// Utterances counts voice activity transitions. Use with attribute:
	//   attribute.String("event", "speech_start"|"end_of_utterance")
	Utterances metric.Int64Counter

	// RecognitionDuration tracks end-to-end recognition of one audio source.
	// Use with attribute: attribute.String("status", ...)
	RecognitionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of open recognizer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Gateway ---

	// GatewayConnections counts gateway clients by outcome. Use with
	// attribute: attribute.String("status", ...)
	GatewayConnections metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds and top out at the longest drain timeout.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		Requests: b.counter("sphinxlink.requests",
			"Requests written to the recognizer by type.", ""),
		RequestBytes: b.counter("sphinxlink.request.bytes",
			"Encoded request bytes written to the recognizer by type.", "By"),
		SuppressedRequests: b.counter("sphinxlink.requests.suppressed",
			"End-of-utterance requests suppressed after the exchange ended.", ""),
		Responses: b.counter("sphinxlink.responses",
			"Responses decoded by the type of request they answer.", ""),
		DrainDuration: b.histogram("sphinxlink.drain.duration",
			"Time spent draining in-flight requests.", latencyBuckets),

		SessionErrors: b.counter("sphinxlink.session.errors",
			"Fatal session errors by kind.", ""),
		Utterances: b.counter("sphinxlink.utterances",
			"Voice activity transitions by event.", ""),
		RecognitionDuration: b.histogram("sphinxlink.recognition.duration",
			"End-to-end recognition latency of one audio source.", latencyBuckets),
		ActiveSessions: b.upDown("sphinxlink.active_sessions",
			"Number of open recognizer sessions."),

		GatewayConnections: b.counter("sphinxlink.gateway.connections",
			"Gateway client connections by outcome.", ""),

		HTTPRequestDuration: b.histogram("sphinxlink.http.request.duration",
			"HTTP request latency by method and path.", nil),
	}
	if b.err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", b.err)
	}
	return met, nil
}

// builder creates instruments and collects their errors.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc, unit string) metric.Int64Counter {
	opts := []metric.Int64CounterOption{metric.WithDescription(desc)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	c, err := b.meter.Int64Counter(name, opts...)
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

// histogram creates a histogram in seconds. Nil buckets keep the SDK
// defaults.
func (b *builder) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from the global meter provider. Instruments created before [InitProvider]
// runs start exporting once it installs the SDK provider.
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

func typeAttr(reqType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", reqType))
}

func statusAttr(status string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("status", status))
}

// RecordRequest records one request of the given type and encoded size.
func (m *Metrics) RecordRequest(ctx context.Context, reqType string, bytes int) {
	m.Requests.Add(ctx, 1, typeAttr(reqType))
	m.RequestBytes.Add(ctx, int64(bytes), typeAttr(reqType))
}

func (m *Metrics) RecordSuppressed(ctx context.Context, reqType string) {
	m.SuppressedRequests.Add(ctx, 1, typeAttr(reqType))
}

func (m *Metrics) RecordResponse(ctx context.Context, reqType string) {
	m.Responses.Add(ctx, 1, typeAttr(reqType))
}

// RecordDrain records how long a catch-up drain blocked and how it ended.
func (m *Metrics) RecordDrain(ctx context.Context, seconds float64, status string) {
	m.DrainDuration.Record(ctx, seconds, statusAttr(status))
}

func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUtterance records "speech_start" or "end_of_utterance".
func (m *Metrics) RecordUtterance(ctx context.Context, event string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) RecordGatewayConnection(ctx context.Context, status string) {
	m.GatewayConnections.Add(ctx, 1, statusAttr(status))
}

func (m *Metrics) RecordRecognition(ctx context.Context, seconds float64, status string) {
	m.RecognitionDuration.Record(ctx, seconds, statusAttr(status))
}
