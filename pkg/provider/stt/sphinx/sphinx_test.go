package sphinx_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	client "github.com/MrWong99/sphinxlink/internal/sphinx"
	"github.com/MrWong99/sphinxlink/internal/sphinx/sphinxtest"
	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
	"github.com/MrWong99/sphinxlink/pkg/provider/stt/sphinx"
)

var codec = wire.Codec{Order: binary.LittleEndian}

// chunk returns 100 ms of 8 kHz PCM at constant amplitude amp.
func chunk(amp int16) []byte {
	b := make([]byte, 1600)
	for i := 0; i < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amp))
	}
	return b
}

var (
	loud   = chunk(2000)
	silent = chunk(0)
)

func newProvider(t *testing.T, srv *sphinxtest.Server, mutate ...func(*client.Config)) *sphinx.Provider {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Addr = srv.Host()
	cfg.Port = srv.Port()
	cfg.ByteOrder = binary.LittleEndian
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := sphinx.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func utterance(t *testing.T, h stt.SessionHandle) {
	t.Helper()
	for _, c := range [][]byte{loud, silent, silent, silent} {
		if err := h.SendAudio(c); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
}

func nextFinal(t *testing.T, h stt.SessionHandle) stt.Transcript {
	t.Helper()
	select {
	case tr, ok := <-h.Finals():
		if !ok {
			t.Fatal("Finals closed before a transcript arrived")
		}
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a final transcript")
	}
	return stt.Transcript{}
}

func TestStream_FinalPerUtterance(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec), sphinxtest.WithFinalResult(5, "yes"))
	p := newProvider(t, srv)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 8000, Channels: 1, Grammar: "yesno"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	utterance(t, h)
	first := nextFinal(t, h)
	if first.Text != "yes" || first.Score != 5 || !first.IsFinal || first.Grammar != "yesno" {
		t.Errorf("first final = %+v", first)
	}
	if first.Timestamp != 0 || first.Duration != 400*time.Millisecond {
		t.Errorf("first final timing = %v+%v, want 0s+400ms", first.Timestamp, first.Duration)
	}

	utterance(t, h)
	second := nextFinal(t, h)
	if second.Timestamp != 400*time.Millisecond {
		t.Errorf("second final Timestamp = %v, want 400ms", second.Timestamp)
	}

	select {
	case tr := <-h.Partials():
		if tr.IsFinal || tr.Text != "yes" {
			t.Errorf("partial = %+v", tr)
		}
	default:
		t.Error("no partial was emitted")
	}

	reqs := srv.Requests()
	if len(reqs) == 0 {
		t.Fatal("server saw no requests")
	}
	if reqs[0].Type != wire.Grammar || string(reqs[0].Payload) != "yesno\x00" {
		t.Errorf("first request = %+v, want grammar yesno", reqs[0])
	}
}

func TestStream_CloseEndsUtterance(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec), sphinxtest.WithFinalResult(9, "stop"))
	p := newProvider(t, srv)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio(loud); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, ok := <-h.Finals()
	if !ok || tr.Text != "stop" {
		t.Fatalf("final after Close = %+v, %v; want stop", tr, ok)
	}
	if _, ok := <-h.Finals(); ok {
		t.Error("Finals not closed after Close")
	}
	if err := h.SendAudio(loud); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStream_CloseWithoutSpeech(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec))
	p := newProvider(t, srv)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio(silent); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-h.Finals(); ok {
		t.Error("a final was emitted without speech")
	}
	for _, r := range srv.Requests() {
		if r.IsEndOfUtterance() {
			t.Errorf("end of utterance sent without speech: %+v", r)
		}
	}
}

func TestStream_SetGrammar(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec))
	p := newProvider(t, srv)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if err := h.SetGrammar("digits"); err != nil {
		t.Fatalf("SetGrammar: %v", err)
	}
	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Type != wire.Grammar || string(reqs[0].Payload) != "digits\x00" {
		t.Errorf("requests = %+v, want one grammar request", reqs)
	}
}

func TestStream_DrainTimeoutEndsStream(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec), sphinxtest.WithResponder(sphinxtest.Silent))
	p := newProvider(t, srv, func(c *client.Config) { c.DrainTimeout = 100 * time.Millisecond })

	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	utterance(t, h)

	select {
	case _, ok := <-h.Finals():
		if ok {
			t.Fatal("final emitted although the server never answered")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the drain timed out")
	}
	if err := h.Close(); !errors.Is(err, client.ErrDrainTimeout) {
		t.Errorf("Close = %v, want ErrDrainTimeout", err)
	}
}

func TestStartStream_Errors(t *testing.T) {
	t.Parallel()

	srv := sphinxtest.NewServer(t, sphinxtest.WithCodec(codec))
	p := newProvider(t, srv)

	if _, err := p.StartStream(context.Background(), stt.StreamConfig{Channels: 2}); err == nil {
		t.Error("StartStream accepted stereo")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); !errors.Is(err, context.Canceled) {
		t.Errorf("StartStream with cancelled ctx = %v, want context.Canceled", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	down := newProvider(t, srv, func(c *client.Config) { c.Port = port })
	if _, err := down.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, client.ErrConnect) {
		t.Errorf("StartStream to closed port = %v, want ErrConnect", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := client.DefaultConfig()
	cfg.Addr = ""
	if _, err := sphinx.New(cfg); err == nil {
		t.Error("New accepted an empty address")
	}
}
