// Package sphinxtest provides a scriptable recognizer server on loopback for
// tests of code that talks to Sphinx.
//
// The server decodes every request it receives, records it, and answers with
// whatever the configured [Responder] returns. The default responder
// acknowledges audio and grammar requests with an empty payload and answers
// the end of an utterance with a single result.
package sphinxtest

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
)

// Responder decides how the server answers req. It returns the response
// payloads to send, in order. Returning none leaves the request unanswered.
type Responder func(req wire.Request) [][]byte

// Ack answers every request with one empty payload.
func Ack(wire.Request) [][]byte { return [][]byte{nil} }

// Silent never answers.
func Silent(wire.Request) [][]byte { return nil }

// Option configures a [Server].
type Option func(*Server)

// WithCodec sets the codec, and thus the byte order, used on the wire.
// Defaults to the host's native order.
func WithCodec(c wire.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithResponder replaces the default responder.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		if r != nil {
			s.respond = r
		}
	}
}

// WithDelay delays every answer by d.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithFinalResult sets the result the default responder sends at the end of
// an utterance.
func WithFinalResult(score int32, text string) Option {
	return func(s *Server) { s.final = wire.Result{Score: score, Text: text} }
}

// Server is a fake recognizer listening on 127.0.0.1.
type Server struct {
	ln      net.Listener
	codec   wire.Codec
	respond Responder
	delay   time.Duration
	final   wire.Result

	mu       sync.Mutex
	requests []wire.Request
	conns    map[net.Conn]struct{}
	accepted int

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sphinxtest: listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		final:  wire.Result{Score: 1, Text: "hello world"},
		conns:  make(map[net.Conn]struct{}),
		closed: make(chan struct{}),
	}
	s.respond = s.defaultResponse
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the listening IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Result encodes a result response payload in the server's byte order.
func (s *Server) Result(score int32, text string) []byte {
	return s.codec.AppendResult(nil, wire.Result{Score: score, Text: text})
}

// Requests returns a copy of every request received so far, across all
// connections, in arrival order.
func (s *Server) Requests() []wire.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// WaitRequests blocks until at least n requests were received or ctx ends.
func (s *Server) WaitRequests(ctx context.Context, n int) ([]wire.Request, error) {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if reqs := s.Requests(); len(reqs) >= n {
			return reqs, nil
		}
		select {
		case <-ctx.Done():
			return s.Requests(), ctx.Err()
		case <-tick.C:
		}
	}
}

// DropConnections closes every open client connection, as a crashing server
// would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and every connection and waits for the handlers.
func (s *Server) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.ln.Close()
		s.DropConnections()
		s.wg.Wait()
	})
}

func (s *Server) defaultResponse(req wire.Request) [][]byte {
	if req.IsEndOfUtterance() {
		return [][]byte{s.codec.AppendResult(nil, s.final)}
	}
	return [][]byte{nil}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			req, used, derr := s.codec.DecodeRequest(pending)
			if errors.Is(derr, wire.ErrIncomplete) {
				break
			}
			if derr != nil {
				return
			}
			req.Payload = append([]byte(nil), req.Payload...)
			pending = pending[used:]

			s.mu.Lock()
			s.requests = append(s.requests, req)
			s.mu.Unlock()

			if !s.answer(conn, req) {
				return
			}
		}
		if err != nil {
			// io.EOF is the client hanging up.
			return
		}
	}
}

// answer writes the responder's payloads for req. It reports false when the
// connection is unusable.
func (s *Server) answer(conn net.Conn, req wire.Request) bool {
	payloads := s.respond(req)
	if len(payloads) == 0 {
		return true
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.closed:
			return false
		}
	}
	var out []byte
	for _, p := range payloads {
		out = s.codec.AppendResponse(out, p)
	}
	_, err := conn.Write(out)
	return err == nil
}
