// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level silence classifier and surfaces it as a
// stateful, per-stream session. Each session keeps its own state (most
// importantly the silence accumulated since speech was last heard) so that
// multiple audio streams can be classified independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a classification,
// which makes it suitable for gating audio before it is sent to a recognizer.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. It converts frame lengths into
	// durations. Must match the rate of the PCM passed to ProcessFrame.
	// Common values: 8000, 16000.
	SampleRate int

	// Threshold is the silence threshold in the engine's native scale. For the
	// energy engine it is a mean absolute 16-bit sample amplitude: frames
	// averaging below it are silent, so zero makes every non-empty frame speech.
	Threshold int

	// FrameSizeMs, when non-zero, is the exact frame duration the engine
	// accepts. Zero accepts frames of any length.
	FrameSizeMs int
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live engine. Reset clears the session's state without closing it.
type SessionHandle interface {
	// ProcessFrame classifies one chunk of signed 16-bit little-endian mono
	// PCM and returns the result, including the cumulative silence since the
	// last non-silent frame. An empty frame is classified as silent and adds
	// no duration.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns ErrClosed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
