// Package mock provides scriptable stt doubles.
//
// Tests own the transcript channels of a Session and push finals into them,
// typically from OnSendAudio:
//
//	sess := &mock.Session{
//		FinalsCh:      make(chan stt.Transcript, 1),
//		CloseChannels: true,
//	}
//	sess.OnSendAudio = func([]byte) { sess.FinalsCh <- stt.Transcript{Text: "yes", IsFinal: true} }
//	p := &mock.Provider{Session: sess}
package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
)

// Provider returns Session from every StartStream, or a fresh Session with
// buffered channels when it is nil.
type Provider struct {
	Session        stt.SessionHandle
	StartStreamErr error

	mu      sync.Mutex
	streams []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, cfg)
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	return &Session{
		PartialsCh:    make(chan stt.Transcript, 16),
		FinalsCh:      make(chan stt.Transcript, 16),
		CloseChannels: true,
	}, nil
}

// Streams returns the configs of every StartStream call, failed ones
// included.
func (p *Provider) Streams() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.StreamConfig(nil), p.streams...)
}

// Session is a stt.SessionHandle backed by test-owned channels.
type Session struct {
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	SendAudioErr  error
	SetGrammarErr error
	CloseErr      error

	// CloseChannels makes the first Close close both channels.
	CloseChannels bool

	// OnSendAudio sees every chunk after it is recorded, without the lock
	// held.
	OnSendAudio func(chunk []byte)

	// CloseCallCount must only be read once the session is no longer in use.
	CloseCallCount int

	mu       sync.Mutex
	chunks   [][]byte
	grammars []string
}

var _ stt.SessionHandle = (*Session)(nil)

func (s *Session) SendAudio(chunk []byte) error {
	c := bytes.Clone(chunk)
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	err, hook := s.SendAudioErr, s.OnSendAudio
	s.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

// Chunks returns the audio sent so far, one entry per SendAudio call.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

func (s *Session) SetGrammar(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grammars = append(s.grammars, name)
	return s.SetGrammarErr
}

// Grammars returns the names passed to SetGrammar.
func (s *Session) Grammars() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.grammars...)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.CloseChannels && s.CloseCallCount == 1 {
		if s.PartialsCh != nil {
			close(s.PartialsCh)
		}
		if s.FinalsCh != nil {
			close(s.FinalsCh)
		}
	}
	return s.CloseErr
}
