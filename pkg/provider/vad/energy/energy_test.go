package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad/energy"
)

// constantFrame returns n samples all set to v as little-endian PCM.
func constantFrame(n int, v int16) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMeanAmplitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"constant positive", constantFrame(4, 100), 100},
		{"constant negative", constantFrame(4, -100), 100},
		{"mixed", append(constantFrame(1, 300), constantFrame(1, -100)...), 200},
		{"min int16", constantFrame(2, -32768), 32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := energy.MeanAmplitude(tt.pcm); got != tt.want {
				t.Errorf("MeanAmplitude = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_SilenceAccumulates(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, Threshold: 500})
	quiet := constantFrame(800, 10) // 100 ms at 8 kHz

	for i, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond} {
		ev, err := s.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !ev.IsSilence() {
			t.Errorf("frame %d: not silent", i)
		}
		if ev.Silence != want {
			t.Errorf("frame %d: Silence = %v, want %v", i, ev.Silence, want)
		}
	}
}

func TestSession_SpeechResetsSilence(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, Threshold: 500})
	quiet := constantFrame(160, 0)
	loud := constantFrame(160, 2000)

	steps := []struct {
		frame   []byte
		want    vad.VADEventType
		silence time.Duration
	}{
		{quiet, vad.VADSilence, 20 * time.Millisecond},
		{loud, vad.VADSpeechStart, 0},
		{loud, vad.VADSpeechContinue, 0},
		{quiet, vad.VADSpeechEnd, 20 * time.Millisecond},
		{quiet, vad.VADSilence, 40 * time.Millisecond},
	}
	for i, st := range steps {
		ev, err := s.ProcessFrame(st.frame)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want || ev.Silence != st.silence {
			t.Errorf("step %d: got %v/%v, want %v/%v", i, ev.Type, ev.Silence, st.want, st.silence)
		}
	}
}

func TestSession_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, Threshold: 500})
	ev, _ := s.ProcessFrame(constantFrame(10, 499))
	if !ev.IsSilence() {
		t.Error("level 499 should be silent with threshold 500")
	}
	ev, _ = s.ProcessFrame(constantFrame(10, 500))
	if ev.IsSilence() {
		t.Error("level 500 should not be silent with threshold 500")
	}
}

func TestSession_EmptyFrame(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, Threshold: energy.DefaultThreshold})
	_, _ = s.ProcessFrame(constantFrame(80, 0))
	ev, err := s.ProcessFrame(nil)
	if err != nil {
		t.Fatalf("ProcessFrame(nil): %v", err)
	}
	if !ev.IsSilence() || ev.Silence != 10*time.Millisecond {
		t.Errorf("empty frame: %+v, want silent with unchanged 10ms", ev)
	}
}

func TestSession_Defaults(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{Threshold: energy.DefaultThreshold})
	// 8000 samples at DefaultSampleRate is 1 s.
	ev, err := s.ProcessFrame(constantFrame(energy.DefaultSampleRate, 499))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if !ev.IsSilence() || ev.Silence != time.Second {
		t.Errorf("event = %+v, want 1s of silence", ev)
	}
}

func TestSession_Errors(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, FrameSizeMs: 20})
	if _, err := s.ProcessFrame([]byte{1, 2, 3}); err == nil {
		t.Error("odd-length frame: expected error")
	}
	if _, err := s.ProcessFrame(constantFrame(100, 0)); err == nil {
		t.Error("wrong frame size: expected error")
	}
	if _, err := s.ProcessFrame(constantFrame(160, 0)); err != nil {
		t.Errorf("20 ms frame: %v", err)
	}

	_ = s.Close()
	if _, err := s.ProcessFrame(constantFrame(160, 0)); !errors.Is(err, vad.ErrClosed) {
		t.Errorf("after Close: err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000, Threshold: energy.DefaultThreshold})
	_, _ = s.ProcessFrame(constantFrame(800, 0))
	s.Reset()
	ev, _ := s.ProcessFrame(constantFrame(800, 0))
	if ev.Silence != 100*time.Millisecond {
		t.Errorf("Silence after Reset = %v, want 100ms", ev.Silence)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	for _, cfg := range []vad.Config{
		{SampleRate: -1},
		{Threshold: -5},
		{FrameSizeMs: -10},
	} {
		if _, err := energy.New().NewSession(cfg); err == nil {
			t.Errorf("NewSession(%+v): expected error", cfg)
		}
	}
}

func TestSession_ZeroThresholdIsAllSpeech(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.Config{SampleRate: 8000})
	for _, level := range []int16{100, 1, 0} {
		ev, err := s.ProcessFrame(constantFrame(80, level))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.IsSilence() {
			t.Errorf("level %d: silent with threshold 0", level)
		}
	}
	if ev, _ := s.ProcessFrame(nil); !ev.IsSilence() {
		t.Error("empty frame counted as speech")
	}
}
