// Package app wires the sphinxlink subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the recognizer, the
// streaming gateway and the admin HTTP server from the config, Run serves
// them until the context is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithGatherer,
// WithAppMetrics, WithCheckers). The STT provider is always passed in; it
// is built by main from the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sphinxlink/internal/config"
	"github.com/MrWong99/sphinxlink/internal/health"
	"github.com/MrWong99/sphinxlink/internal/observe"
	"github.com/MrWong99/sphinxlink/internal/resilience"
	"github.com/MrWong99/sphinxlink/pkg/audio"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
)

// readHeaderTimeout bounds slow admin clients.
const readHeaderTimeout = 5 * time.Second

// App owns all subsystem lifetimes of `sphinxlink serve`.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	checkers []health.Checker
	log      *slog.Logger

	rec     *Recognizer
	breaker *resilience.Breaker
	gateway *Gateway
	admin   *http.Server
	adminLn net.Listener

	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGatherer sets the Prometheus gatherer served on /metrics. Defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithAppMetrics sets the metrics sink shared by every subsystem.
func WithAppMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCheckers appends readiness checks to the built-in recognizer and
// gateway checks.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithAppLogger sets the logger. Defaults to slog.Default().
func WithAppLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App serving recognitions through provider.
func New(cfg *config.Config, provider stt.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: no STT provider")
	}
	a := &App{
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if cfg.Gateway.BreakerFailures > 0 {
		a.breaker = resilience.New(resilience.Config{
			Name:      "recognizer",
			Threshold: cfg.Gateway.BreakerFailures,
			Cooldown:  cfg.Gateway.BreakerCooldown,
		}, resilience.WithLogger(a.log))
	}
	a.rec = a.newRecognizer(cfg, provider)
	a.gateway = NewGateway(GatewayConfig{
		Network:    string(cfg.Gateway.Network),
		Address:    cfg.Gateway.Listen,
		Recognizer: a.rec,
		Sessions:   NewSessionManager(cfg.Gateway.MaxSessions),
		Metrics:    a.metrics,
		Logger:     a.log,
	})

	if cfg.Server.ListenAddr != "" {
		addr := net.JoinHostPort(cfg.Recognizer.Address, fmt.Sprint(cfg.Recognizer.Port))
		checkers := append([]health.Checker{
			health.RecognizerCheck(addr),
			{Name: "gateway", Check: a.gateway.Ready},
		}, a.checkers...)
		a.admin = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.adminHandler(health.New(checkers)),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return a, nil
}

func (a *App) newRecognizer(cfg *config.Config, provider stt.Provider) *Recognizer {
	return NewRecognizer(provider,
		WithFormat(audio.Format{SampleRate: cfg.Detector.SampleRate, Channels: 1}),
		WithFrameDuration(cfg.FrameDuration()),
		WithDefaultGrammar(cfg.Recognizer.Grammar),
		WithMetrics(a.metrics),
		WithBreaker(a.breaker),
		WithLogger(a.log),
	)
}

// adminHandler serves /healthz, /readyz and /metrics.
func (a *App) adminHandler(h *health.Handler) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	routes := []string{"/healthz", "/readyz", "/metrics"}
	return observe.Middleware(a.metrics,
		observe.WithRoutes(routes...),
		observe.WithQuietPaths(routes...),
		observe.WithAccessLogger(a.log),
	)(mux)
}

// Recognizer returns the current recognizer.
func (a *App) Recognizer() *Recognizer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec
}

// Gateway returns the streaming gateway.
func (a *App) Gateway() *Gateway { return a.gateway }

// AdminAddr returns the admin server address once Run has started it, or
// nil.
func (a *App) AdminAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the gateway and admin listeners and serves until ctx is
// cancelled. It returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	if err := a.gateway.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.gateway.Serve(gctx) })

	if a.admin != nil {
		ln, err := net.Listen("tcp", a.admin.Addr)
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("app: admin listen: %w", err), g.Wait())
		}
		a.mu.Lock()
		a.adminLn = ln
		a.mu.Unlock()

		g.Go(func() error {
			a.log.Info("app: admin server listening", "addr", ln.Addr().String())
			if err := a.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
			defer cancel()
			return a.admin.Shutdown(sctx)
		})
	}

	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	a.log.Info("app running",
		"gateway", cfg.Gateway.Listen,
		"recognizer", net.JoinHostPort(cfg.Recognizer.Address, fmt.Sprint(cfg.Recognizer.Port)),
	)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of a config change. When the
// session settings changed, provider (built from new) serves every
// connection accepted from now on; nil keeps the current one.
func (a *App) Reload(old, new *config.Config, provider stt.Provider) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.MaxSessionsChanged {
		a.gateway.Sessions().SetLimit(d.NewMaxSessions)
		a.log.Info("app: session limit changed", "max_sessions", d.NewMaxSessions)
	}
	if d.SessionChanged && provider != nil {
		rec := a.newRecognizer(new, provider)
		a.mu.Lock()
		a.rec = rec
		a.cfg = new
		a.mu.Unlock()
		a.gateway.SetRecognizer(rec)
		a.log.Info("app: recognizer settings reloaded")
	}
	for _, field := range d.RestartRequired {
		a.log.Warn("app: config change requires a restart", "field", field)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
