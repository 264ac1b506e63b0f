// Package mock provides scriptable vad doubles.
//
// A Session answers ProcessFrame from a script:
//
//	det := &mock.Session{
//		Events:      []vad.VADEvent{{Type: vad.VADSpeechStart, Level: 2000}},
//		EventResult: vad.VADEvent{Type: vad.VADSilence, Silence: time.Second},
//	}
//	eng := &mock.Engine{Session: det}
package mock

import (
	"bytes"
	"sync"

	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
)

// Engine hands out Session, or a fresh empty Session when it is nil.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the configs NewSession was called with.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replays Events, one per frame, then answers EventResult for every
// further frame. The exported counters must only be read once the session
// is no longer in use.
type Session struct {
	Events          []vad.VADEvent
	EventResult     vad.VADEvent
	ProcessFrameErr error
	CloseErr        error

	// OnClose runs on every Close, without the lock held.
	OnClose func()

	ResetCallCount int
	CloseCallCount int

	mu     sync.Mutex
	frames [][]byte
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.frames)
	s.frames = append(s.frames, bytes.Clone(frame))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if n < len(s.Events) {
		return s.Events[n], nil
	}
	return s.EventResult, nil
}

// Frames returns copies of the frames classified so far.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	hook := s.OnClose
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.CloseErr
}
