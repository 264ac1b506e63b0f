package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sphinxlink/internal/observe"
	"github.com/MrWong99/sphinxlink/internal/resilience"
)

// maxHeaderSize bounds the JSON header line of a gateway client.
const maxHeaderSize = 4096

// DefaultHeaderTimeout is how long a client may take to send its header.
const DefaultHeaderTimeout = 10 * time.Second

// Header is the first line a gateway client sends.
type Header struct {
	Grammar string `json:"grammar,omitempty"`
}

// Reply is the single line the gateway answers with.
type Reply struct {
	Score int32  `json:"score"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// GatewayConfig holds the dependencies of a [Gateway].
type GatewayConfig struct {
	// Network is "unix" or "tcp".
	Network string

	// Address is the socket path or TCP address to listen on.
	Address string

	Recognizer *Recognizer
	Sessions   *SessionManager

	// HeaderTimeout bounds the wait for the client header. Defaults to
	// [DefaultHeaderTimeout].
	HeaderTimeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Gateway is a local streaming front end: each client sends a JSON [Header]
// line followed by raw PCM in the recognizer format and half-closes its
// side; the gateway recognises the audio and replies with one JSON [Reply]
// line.
type Gateway struct {
	network       string
	address       string
	headerTimeout time.Duration
	sessions      *SessionManager
	metrics       *observe.Metrics
	log           *slog.Logger

	rec atomic.Pointer[Recognizer]

	// accepting is true from Listen until Serve returns.
	accepting atomic.Bool

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewGateway creates a Gateway. Call [Gateway.Listen] and then
// [Gateway.Serve].
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		network:       cfg.Network,
		address:       cfg.Address,
		headerTimeout: cfg.HeaderTimeout,
		sessions:      cfg.Sessions,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		conns:         make(map[net.Conn]struct{}),
	}
	if g.network == "" {
		g.network = "unix"
	}
	if g.headerTimeout <= 0 {
		g.headerTimeout = DefaultHeaderTimeout
	}
	if g.sessions == nil {
		g.sessions = NewSessionManager(0)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.rec.Store(cfg.Recognizer)
	return g
}

// SetRecognizer replaces the recognizer used for new connections.
// Connections in progress keep the one they started with.
func (g *Gateway) SetRecognizer(r *Recognizer) { g.rec.Store(r) }

// Sessions returns the session manager.
func (g *Gateway) Sessions() *SessionManager { return g.sessions }

// Listen opens the listening socket. A stale unix socket file left by a
// previous run is removed first.
func (g *Gateway) Listen() error {
	if g.network == "unix" {
		if fi, err := os.Lstat(g.address); err == nil && fi.Mode()&fs.ModeSocket != 0 {
			if err := os.Remove(g.address); err != nil {
				return fmt.Errorf("app: remove stale socket %q: %w", g.address, err)
			}
		}
	}
	ln, err := net.Listen(g.network, g.address)
	if err != nil {
		return fmt.Errorf("app: gateway listen %s %s: %w", g.network, g.address, err)
	}
	g.mu.Lock()
	g.ln = ln
	g.mu.Unlock()
	g.accepting.Store(true)
	return nil
}

// Ready reports whether the gateway is accepting clients.
func (g *Gateway) Ready(context.Context) error {
	if !g.accepting.Load() {
		return errors.New("app: gateway is not accepting clients")
	}
	return nil
}

// Addr returns the listening address, or nil before [Gateway.Listen].
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Serve accepts clients until ctx is cancelled, then closes the listener
// and every open connection and waits for their handlers. It returns nil
// after a cancellation.
func (g *Gateway) Serve(ctx context.Context) error {
	g.mu.Lock()
	ln := g.ln
	g.mu.Unlock()
	if ln == nil {
		return errors.New("app: gateway is not listening")
	}

	defer g.accepting.Store(false)
	g.log.Info("gateway: listening", "network", g.network, "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		g.mu.Lock()
		for c := range g.conns {
			c.Close()
		}
		g.mu.Unlock()
	})
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("app: gateway accept: %w", aerr)
				ln.Close()
			}
			break
		}
		g.track(conn, true)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			defer g.track(conn, false)
			defer conn.Close()
			g.handle(ctx, conn)
		}()
	}
	g.wg.Wait()
	return err
}

func (g *Gateway) track(c net.Conn, add bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if add {
		g.conns[c] = struct{}{}
	} else {
		delete(g.conns, c)
	}
}

// handle serves a single client.
func (g *Gateway) handle(ctx context.Context, conn net.Conn) {
	remote := "@"
	if a := conn.RemoteAddr(); a != nil && a.String() != "" {
		remote = a.String()
	}
	log := g.log.With("remote", remote)

	br := bufio.NewReaderSize(conn, maxHeaderSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.headerTimeout))
	line, err := br.ReadSlice('\n')
	if err != nil {
		log.Warn("gateway: read header", "err", err)
		g.reply(ctx, conn, "bad_header", Reply{Error: "read header: " + err.Error()})
		return
	}
	var hdr Header
	if err := json.Unmarshal(line, &hdr); err != nil {
		log.Warn("gateway: malformed header", "err", err)
		g.reply(ctx, conn, "bad_header", Reply{Error: "malformed header: " + err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	info, release, err := g.sessions.Acquire(remote, hdr.Grammar)
	if err != nil {
		log.Warn("gateway: rejecting client", "err", err)
		g.reply(ctx, conn, "rejected", Reply{Error: err.Error()})
		return
	}
	defer release()
	log = log.With("session_id", info.ID, "grammar", hdr.Grammar)

	rec := g.rec.Load()
	if rec == nil {
		g.reply(ctx, conn, "error", Reply{Error: "no recognizer configured"})
		return
	}
	t, err := rec.Recognize(ctx, br, hdr.Grammar)
	switch {
	case errors.Is(err, ErrNoResult):
		log.Info("gateway: no result")
		g.reply(ctx, conn, "no_result", Reply{Error: err.Error()})
	case errors.Is(err, resilience.ErrOpen):
		log.Warn("gateway: recognizer unavailable")
		g.reply(ctx, conn, "unavailable", Reply{Error: "recognizer unavailable"})
	case err != nil:
		log.Warn("gateway: recognition failed", "err", err)
		g.reply(ctx, conn, "error", Reply{Error: err.Error()})
	default:
		log.Info("gateway: recognised", "text", t.Text, "score", t.Score)
		g.reply(ctx, conn, "ok", Reply{Score: t.Score, Text: t.Text})
	}
}

func (g *Gateway) reply(ctx context.Context, conn net.Conn, status string, r Reply) {
	g.metrics.RecordGatewayConnection(ctx, status)
	_ = conn.SetWriteDeadline(time.Now().Add(g.headerTimeout))
	if err := json.NewEncoder(conn).Encode(r); err != nil {
		g.log.Debug("gateway: write reply", "err", err)
	}
}
