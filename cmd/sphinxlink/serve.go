package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MrWong99/sphinxlink/internal/app"
	"github.com/MrWong99/sphinxlink/internal/config"
	"github.com/MrWong99/sphinxlink/internal/observe"
)

// shutdownTimeout bounds the teardown after a signal.
const shutdownTimeout = 15 * time.Second

func serveCmd(g *globalOptions) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming gateway and the admin server",
		Long: `Run the local streaming gateway and, when server.listen_addr is set, an
admin HTTP server with /healthz, /readyz and /metrics.

The configuration file is watched: log level, recognizer and detector
settings and gateway.max_sessions are applied without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := g.setup()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), g, cfg, path, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the configuration file on change")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, cfg *config.Config, path string, watch bool) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	reg := newRegistry(metrics)
	provider, err := reg.CreateSTT(cfg)
	if err != nil {
		return fmt.Errorf("create recognizer provider: %w", err)
	}

	a, err := app.New(cfg, provider,
		app.WithGatherer(promReg),
		app.WithAppMetrics(metrics),
		app.WithAppLogger(slog.Default()),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return otelShutdown(sctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	if watch && path != "" {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			onReload(g, reg, a, old, new)
		}, config.WithWatcherLogger(slog.Default().With("component", "config")))
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	slog.Info("sphinxlink starting", "version", version, "config", path)
	runErr := a.Run(ctx)

	if ctx.Err() != nil {
		slog.Info("shutdown signal received, stopping")
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return runErr
}

// onReload applies a changed configuration file. Flags override the file on
// every reload as they did at startup.
func onReload(g *globalOptions, reg *config.Registry, a *app.App, old, new *config.Config) {
	prev, next := *old, *new
	g.applyFlags(&prev)
	g.applyFlags(&next)
	old, new = &prev, &next

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		g.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.SessionChanged {
		a.Reload(old, new, nil)
		return
	}
	provider, err := reg.CreateSTT(new)
	if err != nil {
		slog.Error("config reload: keeping the previous recognizer settings", "err", err)
		a.Reload(old, new, nil)
		return
	}
	a.Reload(old, new, provider)
}
