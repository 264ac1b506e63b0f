package sphinx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/MrWong99/sphinxlink/internal/sphinx/pipeline"
)

// Defaults for [Config].
const (
	DefaultAddr             = "127.0.0.1"
	DefaultPort             = 10070
	DefaultSilenceTime      = 200 * time.Millisecond
	DefaultNoiseFrames      = 0
	DefaultSilenceThreshold = 500
	DefaultSampleRate       = 8000
	DefaultDrainTimeout     = pipeline.DefaultTimeout
)

// Config is the immutable configuration of one session. It is copied into
// the session at construction; later changes to the caller's value have no
// effect.
type Config struct {
	// Addr is the recognizer host name or IP address.
	Addr string

	// Port is the recognizer TCP port.
	Port int

	// SilenceTime is how much trailing silence after speech ends an
	// utterance.
	SilenceTime time.Duration

	// NoiseFrames is how many consecutive non-silent chunks count as the
	// start of speech.
	NoiseFrames int

	// SilenceThreshold is the mean absolute sample amplitude below which a
	// chunk is silent.
	SilenceThreshold int

	// SampleRate of the submitted 16-bit mono PCM, in Hz.
	SampleRate int

	// DrainTimeout bounds each readiness wait while draining.
	DrainTimeout time.Duration

	// ByteOrder of integers on the wire. Nil means the host's native order.
	ByteOrder binary.ByteOrder

	// SendStart makes Start send a Start request to the server. The server
	// does not require it, so it is off by default.
	SendStart bool
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		Addr:             DefaultAddr,
		Port:             DefaultPort,
		SilenceTime:      DefaultSilenceTime,
		NoiseFrames:      DefaultNoiseFrames,
		SilenceThreshold: DefaultSilenceThreshold,
		SampleRate:       DefaultSampleRate,
		DrainTimeout:     DefaultDrainTimeout,
		ByteOrder:        binary.NativeEndian,
	}
}

// Address returns the "host:port" dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("sphinx: address is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("sphinx: port %d out of range", c.Port))
	}
	if c.SilenceTime < 0 {
		errs = append(errs, fmt.Errorf("sphinx: silence time %s is negative", c.SilenceTime))
	}
	if c.NoiseFrames < 0 {
		errs = append(errs, fmt.Errorf("sphinx: noise frames %d is negative", c.NoiseFrames))
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("sphinx: silence threshold %d is negative", c.SilenceThreshold))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sphinx: sample rate %d must be positive", c.SampleRate))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("sphinx: drain timeout %s is negative", c.DrainTimeout))
	}
	return errors.Join(errs...)
}
