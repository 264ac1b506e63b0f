// Package sphinx provides an STT provider backed by a Sphinx recognition
// server reached over TCP.
//
// Each stream owns one recognizer session, driven by a single goroutine.
// Audio passed to SendAudio is queued and written in order; the session's
// voice activity gate finds the end of each utterance by itself. Every time
// the best hypothesis improves it is emitted as a partial. When an utterance
// ends its best result is emitted as a final and the session starts the next
// utterance, so one stream can recognise many utterances in a row.
//
// Usage:
//
//	p, err := sphinx.New(client.DefaultConfig())
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 8000, Grammar: "digits"})
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package sphinx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	client "github.com/MrWong99/sphinxlink/internal/sphinx"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
)

const (
	audioQueueSize      = 256
	transcriptQueueSize = 64
	bytesPerSample      = 2
)

// Compile-time assertions.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*session)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by the provider and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// WithSessionOptions appends options passed to every recognizer session,
// e.g. a VAD engine, metrics or a dialer.
func WithSessionOptions(opts ...client.Option) Option {
	return func(p *Provider) {
		p.sessionOpts = append(p.sessionOpts, opts...)
	}
}

// Provider implements stt.Provider. It holds an immutable configuration
// snapshot; every stream gets its own session and connection.
type Provider struct {
	cfg         client.Config
	sessionOpts []client.Option
	log         *slog.Logger
}

// New creates a Provider that opens sessions with cfg.
func New(cfg client.Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Config returns the configuration new sessions are created with.
func (p *Provider) Config() client.Config { return p.cfg }

// StartStream connects to the server, activates cfg.Grammar if set and
// starts the session goroutine. Only mono audio is accepted.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sphinx: context already cancelled: %w", err)
	}
	if cfg.Channels > 1 {
		return nil, fmt.Errorf("sphinx: %d channels requested, only mono is supported", cfg.Channels)
	}
	sc := p.cfg
	if cfg.SampleRate > 0 {
		sc.SampleRate = cfg.SampleRate
	}

	s := &session{
		log:        p.log.With("grammar", cfg.Grammar),
		sampleRate: sc.SampleRate,
		grammar:    cfg.Grammar,
		audioCh:    make(chan []byte, audioQueueSize),
		grammarCh:  make(chan grammarChange),
		partials:   make(chan stt.Transcript, transcriptQueueSize),
		finals:     make(chan stt.Transcript, transcriptQueueSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	opts := append([]client.Option{client.WithLogger(p.log)}, p.sessionOpts...)
	opts = append(opts,
		client.OnResult(s.onResult),
		client.OnSpeechStart(s.onSpeechStart),
	)

	rs, err := client.New(ctx, sc, opts...)
	if err != nil {
		return nil, err
	}
	s.rs = rs
	if cfg.Grammar != "" {
		if err := rs.ActivateGrammar(ctx, cfg.Grammar); err != nil {
			rs.Close()
			return nil, err
		}
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// grammarChange asks the session goroutine to switch grammars.
type grammarChange struct {
	name  string
	reply chan error
}

// session implements stt.SessionHandle. The recognizer session and all
// per-utterance state belong to the run goroutine.
type session struct {
	rs         *client.Session
	log        *slog.Logger
	sampleRate int

	// owned by run
	grammar     string
	position    time.Duration
	speechStart time.Duration

	audioCh   chan []byte
	grammarCh chan grammarChange
	partials  chan stt.Transcript
	finals    chan stt.Transcript

	done    chan struct{} // closed by Close
	stopped chan struct{} // closed when run returns
	once    sync.Once
	wg      sync.WaitGroup

	mu  sync.Mutex
	err error
}

// SendAudio queues a copy of chunk. It blocks while the queue is full.
func (s *session) SendAudio(chunk []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case s.audioCh <- cp:
		return nil
	case <-s.done:
		return stt.ErrClosed
	case <-s.stopped:
		return s.usable()
	}
}

// Partials implements stt.SessionHandle.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetGrammar switches grammars on the session goroutine. Audio queued before
// the call is recognised with the previous grammar.
func (s *session) SetGrammar(name string) error {
	if err := s.usable(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case s.grammarCh <- grammarChange{name: name, reply: reply}:
	case <-s.done:
		return stt.ErrClosed
	case <-s.stopped:
		return s.usable()
	}
	return <-reply
}

// Close ends the current utterance, waits for the session goroutine and
// returns the error that stopped the session early, if any.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) usable() error {
	select {
	case <-s.done:
		return stt.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	select {
	case <-s.stopped:
		return stt.ErrClosed
	default:
	}
	return nil
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// run is the only goroutine that touches the recognizer session.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stopped)
	defer close(s.partials)
	defer close(s.finals)
	defer func() {
		if err := s.rs.Close(); err != nil {
			s.log.Warn("sphinx: close session", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.finish()
			return

		case <-s.done:
			if s.flushQueued(ctx) {
				s.finish()
			}
			return

		case gc := <-s.grammarCh:
			err := s.rs.ActivateGrammar(ctx, gc.name)
			if err == nil {
				s.grammar = gc.name
			} else {
				s.setErr(err)
			}
			gc.reply <- err
			if err != nil {
				return
			}

		case chunk := <-s.audioCh:
			if !s.write(ctx, chunk) {
				return
			}
		}
	}
}

// flushQueued writes the audio still queued when the handle is closed.
func (s *session) flushQueued(ctx context.Context) bool {
	for {
		select {
		case chunk := <-s.audioCh:
			if !s.write(ctx, chunk) {
				return false
			}
		default:
			return true
		}
	}
}

// write forwards chunk and, when the utterance ended, emits its final and
// starts the next one. It reports false when the session failed.
func (s *session) write(ctx context.Context, chunk []byte) bool {
	err := s.rs.Write(ctx, chunk)
	s.position += s.duration(len(chunk))
	if err != nil {
		s.setErr(err)
		return false
	}
	if s.rs.State() != client.Done {
		return true
	}
	s.emitFinal()
	if err := s.rs.Start(ctx); err != nil {
		s.setErr(err)
		return false
	}
	return true
}

// finish ends an utterance in progress and emits its final.
func (s *session) finish() {
	if s.rs.Err() != nil || !s.rs.Spoke() {
		return
	}
	// Drains are bounded by the session's drain timeout, and the caller's
	// context may already be cancelled.
	if err := s.rs.Deactivate(context.Background()); err != nil {
		s.setErr(err)
		return
	}
	s.emitFinal()
}

func (s *session) emitFinal() {
	r, ok := s.rs.Result()
	if !ok {
		s.log.Debug("sphinx: utterance ended without a result")
		return
	}
	t := stt.Transcript{
		Text:      r.Text,
		IsFinal:   true,
		Score:     r.Score,
		Grammar:   s.grammar,
		Timestamp: s.speechStart,
		Duration:  s.position - s.speechStart,
	}
	select {
	case s.finals <- t:
	default:
		s.log.Warn("sphinx: finals channel full, dropping transcript", "text", r.Text)
	}
}

// onResult runs on the session goroutine whenever the best result improves.
func (s *session) onResult(r client.Result) {
	t := stt.Transcript{
		Text:      r.Text,
		Score:     r.Score,
		Grammar:   s.grammar,
		Timestamp: s.speechStart,
		Duration:  s.position - s.speechStart,
	}
	select {
	case s.partials <- t:
	default:
	}
}

func (s *session) onSpeechStart() {
	s.speechStart = s.position
}

func (s *session) duration(n int) time.Duration {
	if s.sampleRate <= 0 {
		return 0
	}
	samples := n / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}
