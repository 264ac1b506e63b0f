// Package energy provides an amplitude-based silence classifier.
//
// A frame is silent when the mean absolute value of its 16-bit samples is
// below the configured threshold. While frames stay silent their durations
// accumulate; the first loud frame resets the total. This is the classic
// telephony silence detector: cheap, deterministic, and good enough to find
// the end of an utterance on a quiet line.
//
// Usage:
//
//	eng := energy.New()
//	sess, err := eng.NewSession(vad.Config{SampleRate: 8000, Threshold: 500})
//	ev, err := sess.ProcessFrame(pcm)
//	if ev.IsSilence() && ev.Silence > 200*time.Millisecond { ... }
package energy

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
)

const (
	// DefaultThreshold is a threshold suited to quiet telephone lines.
	// Sessions use the configured threshold literally; zero makes every
	// non-empty frame speech.
	DefaultThreshold = 500

	// DefaultSampleRate is used when the session config leaves it unset.
	DefaultSampleRate = 8000

	bytesPerSample = 2
)

// Compile-time assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy classifier sessions. It is stateless and safe for
// concurrent use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("energy: invalid threshold %d", cfg.Threshold)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Session{cfg: cfg}, nil
}

// Session is a single-stream classifier. Its methods are safe for concurrent
// use, although frames from one stream are expected to arrive in order.
type Session struct {
	mu       sync.Mutex
	cfg      vad.Config
	silence  time.Duration
	speaking bool
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	if len(frame)%bytesPerSample != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: frame of %d bytes is not whole 16-bit samples", len(frame))
	}
	if want := s.frameBytes(); want > 0 && len(frame) != 0 && len(frame) != want {
		return vad.VADEvent{}, fmt.Errorf("energy: frame of %d bytes, want %d", len(frame), want)
	}

	level := MeanAmplitude(frame)
	if len(frame) > 0 && level >= float64(s.cfg.Threshold) {
		ev := vad.VADEvent{Type: vad.VADSpeechContinue, Level: level}
		if !s.speaking {
			ev.Type = vad.VADSpeechStart
		}
		s.speaking = true
		s.silence = 0
		return ev, nil
	}

	s.silence += s.duration(len(frame))
	ev := vad.VADEvent{Type: vad.VADSilence, Level: level, Silence: s.silence}
	if s.speaking {
		ev.Type = vad.VADSpeechEnd
	}
	s.speaking = false
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silence = 0
	s.speaking = false
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) duration(n int) time.Duration {
	samples := n / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

func (s *Session) frameBytes() int {
	return s.cfg.SampleRate * s.cfg.FrameSizeMs / 1000 * bytesPerSample
}

// MeanAmplitude returns the mean absolute value of the signed 16-bit
// little-endian samples in pcm. A trailing odd byte is ignored. Returns 0 for
// an empty frame.
func MeanAmplitude(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum int64
	for i := range n {
		v := int64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float64(sum) / float64(n)
}
