package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/sphinxlink/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if d.SessionChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_SessionChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"address", func(c *config.Config) { c.Recognizer.Address = "10.1.1.1" }},
		{"drain timeout", func(c *config.Config) { c.Recognizer.DrainTimeout = time.Second }},
		{"grammar", func(c *config.Config) { c.Recognizer.Grammar = "digits" }},
		{"silence time", func(c *config.Config) { c.Detector.SilenceTimeMs = 900 }},
		{"noise frames", func(c *config.Config) { c.Detector.NoiseFrames = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.SessionChanged {
				t.Errorf("SessionChanged = false for %s", tt.name)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_MaxSessions(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Gateway.MaxSessions = 8

	d := config.Diff(old, new)
	if !d.MaxSessionsChanged || d.NewMaxSessions != 8 {
		t.Errorf("max sessions diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9191"
	new.Server.LogFormat = config.LogFormatTint
	new.Gateway.Listen = "/run/sphinxlink.sock"
	new.Gateway.BreakerFailures = 3

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.log_format", "gateway.listen", "gateway.breaker"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("Empty() = true with restart-only changes")
	}
}
