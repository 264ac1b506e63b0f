package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/sphinxlink/internal/observe"
	"github.com/MrWong99/sphinxlink/internal/resilience"
	"github.com/MrWong99/sphinxlink/pkg/audio"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
)

// ErrNoResult is returned when an audio source ends without the recognizer
// producing a final transcript.
var ErrNoResult = errors.New("app: no recognition result")

// DefaultFrameDuration is the chunk size audio sources are cut into.
const DefaultFrameDuration = 20 * time.Millisecond

// RecognizerOption is a functional option for [NewRecognizer].
type RecognizerOption func(*Recognizer)

// WithFormat sets the PCM format the recognizer expects. Defaults to
// [audio.Mono8k].
func WithFormat(f audio.Format) RecognizerOption {
	return func(r *Recognizer) { r.format = f }
}

// WithFrameDuration sets the duration of the chunks sent per request.
func WithFrameDuration(d time.Duration) RecognizerOption {
	return func(r *Recognizer) {
		if d > 0 {
			r.frame = d
		}
	}
}

// WithDefaultGrammar sets the grammar used when Recognize is called with
// an empty one.
func WithDefaultGrammar(name string) RecognizerOption {
	return func(r *Recognizer) { r.grammar = name }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) RecognizerOption {
	return func(r *Recognizer) { r.metrics = m }
}

// WithBreaker guards stream starts with b: while it is open, Recognize
// fails fast with an error wrapping [resilience.ErrOpen].
func WithBreaker(b *resilience.Breaker) RecognizerOption {
	return func(r *Recognizer) { r.breaker = b }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		if l != nil {
			r.log = l
		}
	}
}

// Recognizer turns complete audio sources into transcripts, one STT stream
// per source. It is safe for concurrent use when the provider is.
type Recognizer struct {
	provider stt.Provider
	format   audio.Format
	frame    time.Duration
	grammar  string
	metrics  *observe.Metrics
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// NewRecognizer returns a Recognizer streaming through p.
func NewRecognizer(p stt.Provider, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		provider: p,
		format:   audio.Mono8k,
		frame:    DefaultFrameDuration,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Format returns the PCM format sources must be in.
func (r *Recognizer) Format() audio.Format { return r.format }

// Recognize streams src, which must carry PCM in [Recognizer.Format], and
// returns the first final transcript. An empty grammar selects the default
// grammar, if any. Feeding stops as soon as a final arrives; when src ends
// first the stream is closed, which ends the utterance in progress.
func (r *Recognizer) Recognize(ctx context.Context, src io.Reader, grammar string) (t stt.Transcript, err error) {
	if grammar == "" {
		grammar = r.grammar
	}
	ctx, span := observe.StartSpan(ctx, "app.recognize")
	start := time.Now()
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, ErrNoResult):
			status = "no_result"
		case errors.Is(err, resilience.ErrOpen):
			status = "unavailable"
		case err != nil:
			status = "error"
		}
		r.metrics.RecordRecognition(ctx, time.Since(start).Seconds(), status)
		observe.EndSpan(span, err)
	}()

	frames, err := audio.NewFrameReader(src, r.format, r.frame)
	if err != nil {
		return stt.Transcript{}, err
	}

	h, err := r.startStream(ctx, stt.StreamConfig{
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
		Grammar:    grammar,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("app: start stream: %w", err)
	}

	if p := h.Partials(); p != nil {
		go audio.Drain(p)
	}

	log := observe.LoggerFrom(ctx, r.log).With("grammar", grammar)
	final, got, err := r.feed(ctx, h, frames)
	if err != nil {
		h.Close()
		return stt.Transcript{}, err
	}
	if closeErr := h.Close(); closeErr != nil && !got {
		return stt.Transcript{}, fmt.Errorf("app: close stream: %w", closeErr)
	}
	if got {
		log.Debug("app: final transcript", "text", final.Text, "score", final.Score)
		return final, nil
	}

	// The stream delivers the final of the utterance ended by Close, then
	// closes the channel.
	select {
	case t, ok := <-h.Finals():
		if !ok {
			return stt.Transcript{}, ErrNoResult
		}
		log.Debug("app: final transcript", "text", t.Text, "score", t.Score)
		return t, nil
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	}
}

func (r *Recognizer) startStream(ctx context.Context, cfg stt.StreamConfig) (h stt.SessionHandle, err error) {
	if r.breaker == nil {
		return r.provider.StartStream(ctx, cfg)
	}
	err = r.breaker.Do(func() error {
		h, err = r.provider.StartStream(ctx, cfg)
		return err
	})
	return h, err
}

// feed sends frames until a final arrives or the source is exhausted.
func (r *Recognizer) feed(ctx context.Context, h stt.SessionHandle, frames *audio.FrameReader) (stt.Transcript, bool, error) {
	for {
		select {
		case t, ok := <-h.Finals():
			if ok {
				return t, true, nil
			}
			return stt.Transcript{}, false, nil
		case <-ctx.Done():
			return stt.Transcript{}, false, ctx.Err()
		default:
		}

		fr, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return stt.Transcript{}, false, nil
		}
		if err != nil {
			return stt.Transcript{}, false, err
		}
		if err := h.SendAudio(fr.Data); err != nil {
			return stt.Transcript{}, false, fmt.Errorf("app: send audio: %w", err)
		}
	}
}
