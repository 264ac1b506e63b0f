// Package gate turns a continuous stream of audio chunks into utterance
// boundaries.
//
// Each chunk is classified by a [vad.SessionHandle]. Until speech has been
// heard, a run of non-silent chunks longer than the configured noise-frame
// count marks the start of speech. After that, a silent chunk that brings
// the accumulated silence past the configured silence time ends the
// utterance: its payload is replaced by an empty one, which the session sends
// as the end-of-utterance signal.
package gate

import (
	"fmt"
	"time"

	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
)

// Config holds the gate thresholds. It is copied at construction.
type Config struct {
	// SilenceTime is how much accumulated silence after speech ends the
	// utterance. The utterance ends once the silence strictly exceeds it, so
	// zero ends it on the first silent chunk after speech.
	SilenceTime time.Duration

	// NoiseFrames is how many consecutive non-silent chunks must be seen
	// before speech counts as heard. One deliberately behaves like zero:
	// speech starts on the first non-silent chunk.
	NoiseFrames int
}

// Decision is the outcome of processing one chunk.
type Decision struct {
	// Payload is what should be sent to the recognizer: the chunk itself, or
	// an empty slice at the end of the utterance.
	Payload []byte

	// SpeechStarted is true for the chunk on which speech was first heard.
	SpeechStarted bool

	// EndOfUtterance is true when trailing silence replaced the chunk with an
	// empty payload.
	EndOfUtterance bool

	// Event is the raw classification of the chunk.
	Event vad.VADEvent
}

// Gate holds the per-utterance voice activity state. It is not safe for
// concurrent use.
type Gate struct {
	det         vad.SessionHandle
	cfg         Config
	heardSpeech bool
	noiseFrames int
}

// New returns a Gate that classifies chunks with det. The Gate owns det and
// closes it in Close.
func New(det vad.SessionHandle, cfg Config) *Gate {
	if cfg.SilenceTime < 0 {
		cfg.SilenceTime = 0
	}
	if cfg.NoiseFrames < 0 {
		cfg.NoiseFrames = 0
	}
	return &Gate{det: det, cfg: cfg}
}

// Process classifies chunk and decides what to forward.
func (g *Gate) Process(chunk []byte) (Decision, error) {
	ev, err := g.det.ProcessFrame(chunk)
	if err != nil {
		return Decision{}, fmt.Errorf("gate: classify: %w", err)
	}
	d := Decision{Payload: chunk, Event: ev}
	silent := ev.IsSilence()

	switch {
	case !g.heardSpeech && !silent:
		g.noiseFrames++
		if g.noiseFrames >= max(g.cfg.NoiseFrames, 1) {
			g.heardSpeech = true
			g.noiseFrames = 0
			d.SpeechStarted = true
		}
	case g.heardSpeech && silent && ev.Silence > g.cfg.SilenceTime:
		d.Payload = chunk[:0]
		d.EndOfUtterance = true
	case silent:
		g.noiseFrames = 0
	}
	return d, nil
}

// HeardSpeech reports whether speech has been heard since the last Reset.
func (g *Gate) HeardSpeech() bool { return g.heardSpeech }

// NoiseFrames returns the current run of non-silent chunks before speech.
func (g *Gate) NoiseFrames() int { return g.noiseFrames }

// Reset clears the per-utterance state, including the detector's.
func (g *Gate) Reset() {
	g.heardSpeech = false
	g.noiseFrames = 0
	g.det.Reset()
}

// Close releases the detector.
func (g *Gate) Close() error {
	if err := g.det.Close(); err != nil {
		return fmt.Errorf("gate: close detector: %w", err)
	}
	return nil
}
