package main

import (
	"log/slog"

	"github.com/MrWong99/sphinxlink/internal/config"
	"github.com/MrWong99/sphinxlink/internal/observe"
	client "github.com/MrWong99/sphinxlink/internal/sphinx"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
	sphinxprov "github.com/MrWong99/sphinxlink/pkg/provider/stt/sphinx"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad/energy"
)

// newRegistry registers every built-in provider. Sessions created by the
// sphinx provider record into metrics.
func newRegistry(metrics *observe.Metrics) *config.Registry {
	reg := config.NewRegistry()

	// The threshold travels in each session's vad.Config.
	reg.RegisterVAD("energy", func(config.DetectorConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterSTT("sphinx", func(cfg *config.Config, engine vad.Engine) (stt.Provider, error) {
		sc, err := cfg.SessionConfig()
		if err != nil {
			return nil, err
		}
		return sphinxprov.New(sc,
			sphinxprov.WithLogger(slog.Default()),
			sphinxprov.WithSessionOptions(
				client.WithEngine(engine),
				client.WithMetrics(metrics),
			),
		)
	})

	for _, kind := range []string{"stt", "vad"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
	return reg
}
