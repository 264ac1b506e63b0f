// Package config provides the configuration schema, loader, and provider
// registry for sphinxlink.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatTint LogFormat = "tint"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatTint:
		return true
	}
	return false
}

// Network is the socket family the gateway listens on.
type Network string

const (
	NetworkUnix Network = "unix"
	NetworkTCP  Network = "tcp"
)

// IsValid reports whether n is a supported network.
func (n Network) IsValid() bool { return n == NetworkUnix || n == NetworkTCP }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Detector   DetectorConfig   `yaml:"detector"`
	Gateway    GatewayConfig    `yaml:"gateway"`
}

// ServerConfig holds the admin HTTP and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin HTTP server serving
	// /healthz, /readyz and /metrics (e.g., ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text, json or tint (coloured console) output.
	LogFormat LogFormat `yaml:"log_format"`
}

// RecognizerConfig describes how to reach the recognition server.
type RecognizerConfig struct {
	// Provider selects the registered STT provider (e.g., "sphinx").
	Provider string `yaml:"provider"`

	// Address is the server host name or IP address.
	Address string `yaml:"address"`

	// Port is the server TCP port.
	Port int `yaml:"port"`

	// ByteOrder of integers on the wire: native, little or big.
	ByteOrder string `yaml:"byte_order"`

	// DrainTimeout bounds each wait for outstanding responses (e.g., "5s").
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// SendStart sends a Start request at the beginning of every utterance.
	SendStart bool `yaml:"send_start"`

	// Grammar is activated on every new session when set.
	Grammar string `yaml:"grammar"`
}

// DetectorConfig holds the voice activity settings.
type DetectorConfig struct {
	// Engine selects the registered VAD engine (e.g., "energy").
	Engine string `yaml:"engine"`

	// SilenceTimeMs is how much trailing silence ends an utterance.
	SilenceTimeMs int `yaml:"silence_time_ms"`

	// NoiseFrames is how many consecutive non-silent chunks start speech.
	NoiseFrames int `yaml:"noise_frames"`

	// SilenceThreshold is the mean absolute amplitude below which a chunk
	// is silent.
	SilenceThreshold int `yaml:"silence_threshold"`

	// SampleRate of the audio sent to the recognizer, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the duration of the chunks audio sources are cut into.
	FrameMs int `yaml:"frame_ms"`
}

// GatewayConfig configures the local streaming gateway of `serve`.
type GatewayConfig struct {
	// Listen is the socket path (unix) or address (tcp).
	Listen string `yaml:"listen"`

	// Network is unix or tcp.
	Network Network `yaml:"network"`

	// MaxSessions caps concurrent recognizer sessions. Zero means no limit.
	MaxSessions int `yaml:"max_sessions"`

	// BreakerFailures is how many consecutive failures to reach the
	// recognizer make the gateway refuse clients for BreakerCooldown. Zero
	// disables the breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldown is how long clients are refused (e.g., "10s").
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}
