// Package sphinx implements a client session against a Sphinx speech
// recognition server.
//
// A [Session] owns one TCP connection, two fixed-capacity protocol buffers
// and a voice activity gate. Audio passed to [Session.Write] is classified
// locally: leading noise marks the start of speech and trailing silence ends
// the utterance, at which point an empty Data request tells the server to
// finish. Requests are pipelined; responses are matched to requests by order
// alone and the best-scoring one is kept as the [Result].
//
// A Session is driven by a single goroutine. It never blocks except while
// draining outstanding responses, which happens after the utterance ends and
// when a grammar is activated. Every error is fatal: the session moves to
// [NotReady] and must be closed and recreated.
package sphinx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sphinxlink/internal/observe"
	"github.com/MrWong99/sphinxlink/internal/sphinx/gate"
	"github.com/MrWong99/sphinxlink/internal/sphinx/pipeline"
	"github.com/MrWong99/sphinxlink/internal/sphinx/transport"
	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad/energy"
)

// State is the lifecycle state of a session.
type State int

const (
	// NotReady is the initial state and the state after any failure.
	NotReady State = iota

	// Ready accepts audio.
	Ready

	// Wait is held while a grammar change is being acknowledged.
	Wait

	// Done means the end of the utterance was sent. No more audio is
	// forwarded until Start.
	Done
)

// String returns the upper-case name of s.
func (s State) String() string {
	switch s {
	case NotReady:
		return "NOT_READY"
	case Ready:
		return "READY"
	case Wait:
		return "WAIT"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the best recognition seen in the current utterance.
type Result struct {
	Score int32
	Text  string
}

// Option is a functional option for [New].
type Option func(*Session)

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDialer replaces the TCP dialer, e.g. with an in-memory connection.
func WithDialer(d transport.DialFunc) Option {
	return func(s *Session) {
		if d != nil {
			s.dial = d
		}
	}
}

// WithAllocator sets where the protocol buffers come from.
func WithAllocator(a transport.Allocator) Option {
	return func(s *Session) {
		if a != nil {
			s.alloc = a
		}
	}
}

// WithEngine sets the VAD engine used to classify audio. Defaults to the
// energy engine.
func WithEngine(e vad.Engine) Option {
	return func(s *Session) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithClock replaces time.Now for drain timing.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// OnSpeechStart registers fn to be called when speech is first heard.
func OnSpeechStart(fn func()) Option {
	return func(s *Session) { s.onSpeechStart = fn }
}

// OnResult registers fn to be called whenever the best result changes.
func OnResult(fn func(Result)) Option {
	return func(s *Session) { s.onResult = fn }
}

// OnStateChange registers fn to be called on every state transition.
func OnStateChange(fn func(from, to State)) Option {
	return func(s *Session) { s.onStateChange = fn }
}

// Session is one recognizer conversation. It is not safe for concurrent use.
type Session struct {
	cfg     Config
	codec   wire.Codec
	log     *slog.Logger
	metrics *observe.Metrics
	dial    transport.DialFunc
	alloc   transport.Allocator
	engine  vad.Engine
	now     func() time.Time

	onSpeechStart func()
	onResult      func(Result)
	onStateChange func(from, to State)

	state State
	coord *pipeline.Coordinator
	gate  *gate.Gate

	result      *Result
	haveResults bool
	spoke       bool

	// err is the fatal error that moved the session to NotReady.
	err    error
	closed bool
}

// New creates a session: it allocates the detector and buffers, connects to
// cfg.Address() with a single attempt, and moves to [Ready].
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		codec:  wire.Codec{Order: cfg.ByteOrder},
		log:    slog.Default(),
		dial:   transport.DialConn,
		alloc:  transport.DefaultAllocator,
		engine: energy.New(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = s.log.With("server", cfg.Address())

	det, err := s.engine.NewSession(vad.Config{
		SampleRate: cfg.SampleRate,
		Threshold:  cfg.SilenceThreshold,
	})
	if err != nil {
		s.metrics.RecordSessionError(ctx, "allocation")
		return nil, fmt.Errorf("sphinx: create silence detector: %w", errors.Join(ErrAllocation, err))
	}
	s.gate = gate.New(det, gate.Config{
		SilenceTime: cfg.SilenceTime,
		NoiseFrames: cfg.NoiseFrames,
	})

	s.coord, err = pipeline.New(
		pipeline.WithCodec(s.codec),
		pipeline.WithTimeout(cfg.DrainTimeout),
		pipeline.WithAllocator(s.alloc),
		pipeline.WithClock(s.now),
		pipeline.WithLogger(s.log),
		pipeline.WithResponseHandler(s.handleResponse),
		pipeline.WithObserver(pipelineMetrics{m: s.metrics}),
	)
	if err != nil {
		s.gate.Close()
		s.metrics.RecordSessionError(ctx, "allocation")
		return nil, fmt.Errorf("sphinx: %w", err)
	}

	if err := s.coord.Connect(ctx, s.dial, cfg.Address()); err != nil {
		s.coord.Close()
		s.gate.Close()
		s.metrics.RecordSessionError(ctx, errorKind(err))
		s.log.Error("sphinx: connect failed", "err", err)
		return nil, fmt.Errorf("sphinx: connect %s: %w", cfg.Address(), err)
	}
	s.log.Debug("sphinx: connected")

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.setState(Ready)
	return s, nil
}

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the fatal error that moved the session to NotReady, if any.
func (s *Session) Err() error { return s.err }

// Result returns the best result of the current utterance. ok is false when
// no result has arrived yet.
func (s *Session) Result() (r Result, ok bool) {
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// HaveResults reports whether any result arrived since the last Start.
func (s *Session) HaveResults() bool { return s.haveResults }

// Spoke reports whether speech was heard since the last Start.
func (s *Session) Spoke() bool { return s.spoke }

// Final reports whether the end of the utterance has been sent.
func (s *Session) Final() bool { return s.coord != nil && s.coord.Final() }

// Outstanding returns the number of responses the server still owes.
func (s *Session) Outstanding() int {
	if s.coord == nil {
		return 0
	}
	return s.coord.Outstanding()
}

// ActivateGrammar selects the named grammar on the server and waits until
// the server has acknowledged it. On success the session is Ready.
func (s *Session) ActivateGrammar(ctx context.Context, name string) (err error) {
	ctx, span := observe.StartSpan(ctx, "sphinx.activate_grammar",
		trace.WithAttributes(attribute.String("grammar", name)))
	defer func() { observe.EndSpan(span, err) }()

	if err := s.usable(); err != nil {
		return err
	}
	s.setState(Wait)
	if err := s.exchange(ctx, wire.GrammarRequest(name), true); err != nil {
		return s.fail(ctx, "activate grammar "+name, err)
	}
	s.setState(Ready)
	s.log.Debug("sphinx: grammar active", "grammar", name)
	return nil
}

// Deactivate tells the server this is its last chance to produce results by
// ending the utterance, unless that already happened.
func (s *Session) Deactivate(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state == Done || s.coord.Final() {
		return nil
	}
	return s.Write(ctx, nil)
}

// Write submits one chunk of signed 16-bit little-endian mono PCM. The
// chunk passes through the voice activity gate; once the utterance has ended
// every chunk is treated as empty. When the end of the utterance is sent,
// Write blocks until all outstanding responses have arrived.
func (s *Session) Write(ctx context.Context, pcm []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	ended := s.state == Done || s.coord.Final()
	if ended {
		pcm = pcm[:0]
	}

	d, err := s.gate.Process(pcm)
	if err != nil {
		return s.fail(ctx, "classify audio", err)
	}
	if d.SpeechStarted {
		s.spoke = true
		s.metrics.RecordUtterance(ctx, "speech_start")
		s.log.Debug("sphinx: speech detected")
		if s.onSpeechStart != nil {
			s.onSpeechStart()
		}
	}
	if d.EndOfUtterance && !ended {
		s.metrics.RecordUtterance(ctx, "end_of_utterance")
		s.log.Debug("sphinx: end of utterance", "silence", d.Event.Silence)
	}

	if err := s.exchange(ctx, wire.DataRequest(d.Payload), false); err != nil {
		return s.fail(ctx, "write audio", err)
	}
	return nil
}

// Start prepares the session for a new utterance: the gate, the result and
// the protocol state are reset and the session becomes Ready. Work still
// pending from the previous utterance is discarded and logged.
func (s *Session) Start(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.coord.Pending() {
		s.log.Warn("sphinx: discarding pending work on start",
			"outstanding", s.coord.Outstanding(),
			"queued_bytes", s.coord.Queued(),
		)
	}
	s.coord.Reset()
	s.gate.Reset()
	s.result = nil
	s.haveResults = false
	s.spoke = false
	s.setState(Ready)

	if s.cfg.SendStart {
		if err := s.exchange(ctx, wire.Request{Type: wire.Start}, false); err != nil {
			return s.fail(ctx, "start utterance", err)
		}
	}
	return nil
}

// Finish sends an explicit Finish request and waits for all outstanding
// responses. It is a no-op on the wire if the utterance already ended.
func (s *Session) Finish(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.exchange(ctx, wire.Request{Type: wire.Finish}, false); err != nil {
		return s.fail(ctx, "finish", err)
	}
	return nil
}

// Close closes the connection, then releases the buffers, then releases the
// detector. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.coord.Close(); err != nil {
		errs = append(errs, fmt.Errorf("sphinx: close connection: %w", err))
	}
	if err := s.gate.Close(); err != nil {
		errs = append(errs, err)
	}
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.setState(NotReady)
	s.log.Debug("sphinx: disconnected")
	return errors.Join(errs...)
}

// exchange submits req, polls for responses and drains when the utterance
// has ended or catchup is requested.
func (s *Session) exchange(ctx context.Context, req wire.Request, catchup bool) error {
	sent, err := s.coord.Submit(req)
	if err != nil {
		return err
	}
	if sent && req.IsEndOfUtterance() {
		s.setState(Done)
	}
	if err := s.coord.Poll(); err != nil {
		return err
	}
	if s.state == Done || s.coord.Final() || catchup {
		return s.drain(ctx)
	}
	return nil
}

func (s *Session) drain(ctx context.Context) (err error) {
	if !s.coord.Pending() {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "sphinx.drain",
		trace.WithAttributes(attribute.Int("outstanding", s.coord.Outstanding())))
	defer func() { observe.EndSpan(span, err) }()
	return s.coord.Drain(ctx)
}

// handleResponse keeps the best result. Equal scores replace the stored
// result so the latest text wins.
func (s *Session) handleResponse(t wire.RequestType, payload []byte) {
	r, ok := s.codec.DecodeResult(payload)
	if !ok {
		s.log.Debug("sphinx: acknowledged", "request", t)
		return
	}
	s.haveResults = true
	if s.result != nil && r.Score < s.result.Score {
		s.log.Debug("sphinx: ignoring lower-scoring result", "score", r.Score, "best", s.result.Score)
		return
	}
	s.result = &Result{Score: r.Score, Text: r.Text}
	s.log.Info("sphinx: result", "score", r.Score, "text", r.Text)
	if s.onResult != nil {
		s.onResult(*s.result)
	}
}

// usable returns an error if the session can no longer be used.
func (s *Session) usable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.err != nil:
		return fmt.Errorf("sphinx: session failed: %w", s.err)
	case !s.coord.Connected():
		return ErrNotConnected
	}
	return nil
}

// fail records err as fatal, moves to NotReady and returns the wrapped error.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	err = fmt.Errorf("sphinx: %s: %w", op, err)
	s.err = err
	kind := errorKind(err)
	s.metrics.RecordSessionError(ctx, kind)
	observe.LoggerFrom(ctx, s.log).Error("sphinx: comms error, changing state to NOT_READY",
		"op", op, "kind", kind, "err", err)
	s.setState(NotReady)
	return err
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

// pipelineMetrics records pipeline events on the session metrics.
type pipelineMetrics struct {
	m *observe.Metrics
}

func (p pipelineMetrics) RequestSent(t wire.RequestType, n int) {
	p.m.RecordRequest(context.Background(), t.String(), n)
}

func (p pipelineMetrics) RequestSuppressed(t wire.RequestType) {
	p.m.RecordSuppressed(context.Background(), t.String())
}

func (p pipelineMetrics) ResponseReceived(t wire.RequestType, _ int) {
	p.m.RecordResponse(context.Background(), t.String())
}

func (p pipelineMetrics) Drained(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = errorKind(err)
	}
	p.m.RecordDrain(context.Background(), d.Seconds(), status)
}
