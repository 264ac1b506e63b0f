// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a recognition service and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio chunks and emits two streams of Transcript values.
// Partials carry every improvement of the current hypothesis; Finals carry the
// committed result of each utterance.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by SessionHandle methods called after Close.
var ErrClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Zero selects the provider
	// default (8000 for Sphinx telephony models).
	SampleRate int

	// Channels is the number of audio channels. Recognizers expect mono.
	Channels int

	// Grammar names the grammar to activate before any audio is sent. Empty
	// keeps whatever the server has active.
	Grammar string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// recognizer.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of signed 16-bit PCM audio. The chunk should
	// match the SampleRate and Channels agreed in StreamConfig. Calling
	// SendAudio after Close returns ErrClosed; calling it after the session
	// failed returns the failure.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits interim Transcript
	// values whenever the provider's best hypothesis improves. The channel is
	// closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits one Transcript per
	// completed utterance. The channel is closed when the session ends.
	Finals() <-chan Transcript

	// SetGrammar switches the active grammar and returns once the provider has
	// acknowledged the change.
	SetGrammar(name string) error

	// Close ends the current utterance, emits its final transcript if there is
	// one, and releases all resources. After Close returns, the Partials and
	// Finals channels are closed. Close returns the error that ended the
	// session early, if any. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming recognition session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// the server is unreachable, the grammar is rejected, or ctx is already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
