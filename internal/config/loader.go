package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sphinxlink/internal/resilience"
	"github.com/MrWong99/sphinxlink/internal/sphinx"
	"github.com/MrWong99/sphinxlink/internal/sphinx/transport"
	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultProvider       = "sphinx"
	DefaultEngine         = "energy"
	DefaultFrameMs        = 20
	DefaultGatewaySocket  = "/tmp/sphinxlink.sock"
	DefaultLogFormat      = LogFormatText
	DefaultLogLevel       = LogInfo
	DefaultGatewayNetwork = NetworkUnix
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"sphinx"},
	"vad": {"energy"},
}

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces os.LookupEnv as the source of environment
// overrides. Pass a function that always reports false to ignore the
// environment.
func WithLookupEnv(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.lookupEnv = fn
		}
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, applies
// environment overrides and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg, o.lookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = DefaultLogFormat
	}

	r := &cfg.Recognizer
	if r.Provider == "" {
		r.Provider = DefaultProvider
	}
	if r.Address == "" {
		r.Address = sphinx.DefaultAddr
	}
	if r.Port == 0 {
		r.Port = sphinx.DefaultPort
	}
	if r.ByteOrder == "" {
		r.ByteOrder = "native"
	}
	if r.DrainTimeout == 0 {
		r.DrainTimeout = sphinx.DefaultDrainTimeout
	}

	d := &cfg.Detector
	if d.Engine == "" {
		d.Engine = DefaultEngine
	}
	if d.SilenceTimeMs == 0 {
		d.SilenceTimeMs = int(sphinx.DefaultSilenceTime / time.Millisecond)
	}
	if d.SilenceThreshold == 0 {
		d.SilenceThreshold = sphinx.DefaultSilenceThreshold
	}
	if d.SampleRate == 0 {
		d.SampleRate = sphinx.DefaultSampleRate
	}
	if d.FrameMs == 0 {
		d.FrameMs = DefaultFrameMs
	}

	g := &cfg.Gateway
	if g.Network == "" {
		g.Network = DefaultGatewayNetwork
	}
	if g.Listen == "" && g.Network == NetworkUnix {
		g.Listen = DefaultGatewaySocket
	}
	if g.BreakerFailures > 0 && g.BreakerCooldown == 0 {
		g.BreakerCooldown = resilience.DefaultCooldown
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, tint", cfg.Server.LogFormat))
	}

	// Recognizer
	r := cfg.Recognizer
	validateProviderName("stt", r.Provider)
	if r.Address == "" {
		errs = append(errs, errors.New("recognizer.address is required"))
	}
	if r.Port <= 0 || r.Port > 65535 {
		errs = append(errs, fmt.Errorf("recognizer.port %d is out of range [1, 65535]", r.Port))
	}
	if _, err := wire.ParseByteOrder(r.ByteOrder); err != nil {
		errs = append(errs, fmt.Errorf("recognizer.byte_order %q is invalid; valid values: native, little, big", r.ByteOrder))
	}
	if r.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("recognizer.drain_timeout %s is negative", r.DrainTimeout))
	}
	if r.SendStart {
		slog.Warn("recognizer.send_start is enabled; the server must accept Start requests")
	}

	// Detector
	d := cfg.Detector
	validateProviderName("vad", d.Engine)
	if d.SilenceTimeMs < 0 {
		errs = append(errs, fmt.Errorf("detector.silence_time_ms %d is negative", d.SilenceTimeMs))
	}
	if d.NoiseFrames < 0 {
		errs = append(errs, fmt.Errorf("detector.noise_frames %d is negative", d.NoiseFrames))
	}
	if d.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("detector.silence_threshold %d is negative", d.SilenceThreshold))
	}
	if d.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("detector.sample_rate %d is negative", d.SampleRate))
	}
	if d.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("detector.frame_ms %d is negative", d.FrameMs))
	}
	if d.FrameMs > 0 && d.SampleRate > 0 {
		if n := d.SampleRate * d.FrameMs / 1000 * 2; n+wire.RequestHeaderSize > transport.Capacity {
			errs = append(errs, fmt.Errorf("detector.frame_ms %d gives %d-byte chunks, too large for one request", d.FrameMs, n))
		}
	}

	// Gateway
	g := cfg.Gateway
	if g.Network != "" && !g.Network.IsValid() {
		errs = append(errs, fmt.Errorf("gateway.network %q is invalid; valid values: unix, tcp", g.Network))
	}
	if g.Network == NetworkTCP && g.Listen == "" {
		errs = append(errs, errors.New("gateway.listen is required when network is tcp"))
	}
	if g.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_sessions %d is negative", g.MaxSessions))
	}
	if g.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("gateway.breaker_failures %d is negative", g.BreakerFailures))
	}
	if g.BreakerCooldown < 0 {
		errs = append(errs, fmt.Errorf("gateway.breaker_cooldown %s is negative", g.BreakerCooldown))
	}

	return errors.Join(errs...)
}

// SessionConfig returns the immutable session snapshot described by cfg.
func (cfg *Config) SessionConfig() (sphinx.Config, error) {
	order, err := wire.ParseByteOrder(cfg.Recognizer.ByteOrder)
	if err != nil {
		return sphinx.Config{}, fmt.Errorf("config: %w", err)
	}
	sc := sphinx.Config{
		Addr:             cfg.Recognizer.Address,
		Port:             cfg.Recognizer.Port,
		SilenceTime:      time.Duration(cfg.Detector.SilenceTimeMs) * time.Millisecond,
		NoiseFrames:      cfg.Detector.NoiseFrames,
		SilenceThreshold: cfg.Detector.SilenceThreshold,
		SampleRate:       cfg.Detector.SampleRate,
		DrainTimeout:     cfg.Recognizer.DrainTimeout,
		ByteOrder:        order,
		SendStart:        cfg.Recognizer.SendStart,
	}
	if err := sc.Validate(); err != nil {
		return sphinx.Config{}, fmt.Errorf("config: %w", err)
	}
	return sc, nil
}

// FrameDuration returns the configured audio chunk duration.
func (cfg *Config) FrameDuration() time.Duration {
	return time.Duration(cfg.Detector.FrameMs) * time.Millisecond
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
