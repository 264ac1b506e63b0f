package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// otherRoute is the path label of requests outside the known routes.
const otherRoute = "other"

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithQuietPaths logs requests for the given paths at debug level. Health
// checks and scrapes would otherwise flood the log.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.quiet[p] = true
		}
	}
}

// WithRoutes limits the path label of metrics and span names to paths.
// Every other path is recorded as "other". Without it the raw path is used.
func WithRoutes(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		if mw.routes == nil {
			mw.routes = make(map[string]bool, len(paths))
		}
		for _, p := range paths {
			mw.routes[p] = true
		}
	}
}

// WithAccessLogger sets the logger for completed requests. Defaults to
// slog.Default() at the time of each request.
func WithAccessLogger(l *slog.Logger) MiddlewareOption {
	return func(mw *middleware) { mw.log = l }
}

// Middleware wraps the admin handler: it continues W3C trace context from
// the request, runs the handler in a server span, echoes the trace id in
// X-Correlation-ID and records [Metrics.HTTPRequestDuration] by method,
// route and status before logging the request.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middleware{
		metrics: m,
		prop:    propagation.TraceContext{},
		quiet:   make(map[string]bool),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		mw := cfg
		mw.next = next
		return &mw
	}
}

type middleware struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TextMapPropagator
	quiet   map[string]bool
	routes  map[string]bool
	log     *slog.Logger
}

func (mw *middleware) route(path string) string {
	if mw.routes == nil || mw.routes[path] {
		return path
	}
	return otherRoute
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	route := mw.route(r.URL.Path)

	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	sw := &statusWriter{ResponseWriter: w}
	mw.next.ServeHTTP(sw, r.WithContext(ctx))
	status := sw.code()
	elapsed := time.Since(start)

	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", route),
			attribute.Int("status", status),
		),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}

	level := slog.LevelInfo
	if mw.quiet[r.URL.Path] {
		level = slog.LevelDebug
	}
	LoggerFrom(ctx, mw.log).LogAttrs(ctx, level, "http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}

// statusWriter remembers the first status code written.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
