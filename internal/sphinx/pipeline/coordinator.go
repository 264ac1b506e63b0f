// Package pipeline drives the pipelined request/response exchange with a
// recognizer server over a non-blocking [transport.Conn].
//
// Requests may be written faster than responses arrive. The [Coordinator]
// queues encoded requests in a fixed-capacity send buffer, flushes them
// opportunistically, and counts the responses still owed through a
// [Correlator]. Responses are assembled in a fixed-capacity receive buffer
// across as many partial reads as it takes. [Coordinator.Drain] blocks until
// nothing is queued, in flight, or owed.
//
// A Coordinator is not safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/sphinxlink/internal/sphinx/transport"
	"github.com/MrWong99/sphinxlink/internal/sphinx/wire"
)

// DefaultTimeout bounds each readiness wait inside Drain.
const DefaultTimeout = 5 * time.Second

var (
	// ErrDrainTimeout is returned by Drain when a wait elapsed while work was
	// still pending.
	ErrDrainTimeout = errors.New("pipeline: drain timed out")

	// ErrNotConnected is returned by I/O methods before Connect succeeded or
	// after Close.
	ErrNotConnected = errors.New("pipeline: not connected")

	// ErrProtocol is returned when the server sends a frame that cannot be
	// valid: a negative length or a payload larger than the receive buffer.
	ErrProtocol = errors.New("pipeline: protocol violation")
)

// ResponseHandler is called once per fully received response with the type
// of the request it answers and its payload. The payload is only valid for
// the duration of the call.
type ResponseHandler func(t wire.RequestType, payload []byte)

// Observer receives pipeline events, typically to record metrics.
type Observer interface {
	RequestSent(t wire.RequestType, n int)
	RequestSuppressed(t wire.RequestType)
	ResponseReceived(t wire.RequestType, n int)
	Drained(d time.Duration, err error)
}

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithTimeout sets the per-wait timeout used by Drain. Non-positive values
// are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces time.Now for measuring drain durations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCodec sets the codec, and thus the byte order, used on the wire.
func WithCodec(codec wire.Codec) Option {
	return func(c *Coordinator) { c.codec = codec }
}

// WithCorrelator replaces the default [FIFO] correlator.
func WithCorrelator(corr Correlator) Option {
	return func(c *Coordinator) {
		if corr != nil {
			c.corr = corr
		}
	}
}

// WithAllocator sets where the send and receive buffers come from.
func WithAllocator(a transport.Allocator) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.alloc = a
		}
	}
}

// WithResponseHandler registers the callback for decoded responses.
func WithResponseHandler(h ResponseHandler) Option {
	return func(c *Coordinator) { c.onResponse = h }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger for diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// Coordinator owns the connection and both buffers of one session.
type Coordinator struct {
	conn  transport.Conn
	codec wire.Codec
	corr  Correlator
	alloc transport.Allocator

	sendMem, recvMem []byte
	send, recv       *transport.Buffer

	// want is the payload length of the response being received, or -1
	// while its header is incomplete.
	want int

	// final is set once an end-of-utterance request has been queued.
	final bool

	timeout    time.Duration
	now        func() time.Time
	onResponse ResponseHandler
	observer   Observer
	log        *slog.Logger
}

// New allocates the send and receive buffers. The coordinator has no
// connection until [Coordinator.Connect] is called. Allocation failures wrap
// [transport.ErrAllocation].
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		corr:    &FIFO{},
		alloc:   transport.DefaultAllocator,
		want:    -1,
		timeout: DefaultTimeout,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	var err error
	if c.sendMem, err = c.alloc.Alloc(); err != nil {
		return nil, fmt.Errorf("pipeline: send buffer: %w", errors.Join(transport.ErrAllocation, err))
	}
	if c.recvMem, err = c.alloc.Alloc(); err != nil {
		c.alloc.Free(c.sendMem)
		c.sendMem = nil
		return nil, fmt.Errorf("pipeline: receive buffer: %w", errors.Join(transport.ErrAllocation, err))
	}
	c.send = transport.NewBuffer(c.sendMem)
	c.recv = transport.NewBuffer(c.recvMem)
	return c, nil
}

// Connect dials address with dial and attaches the resulting connection. Any
// previously attached connection is closed first. Only one attempt is made.
func (c *Coordinator) Connect(ctx context.Context, dial transport.DialFunc, address string) error {
	if c.send == nil {
		return ErrNotConnected
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := dial(ctx, address)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Connected reports whether a connection is attached.
func (c *Coordinator) Connected() bool { return c.conn != nil }

// Final reports whether an end-of-utterance request has been queued since the
// last Reset.
func (c *Coordinator) Final() bool { return c.final }

// Outstanding returns the number of responses still owed by the server.
func (c *Coordinator) Outstanding() int { return c.corr.Outstanding() }

// Queued returns the number of encoded bytes not yet written to the socket.
func (c *Coordinator) Queued() int {
	if c.send == nil {
		return 0
	}
	return c.send.Len()
}

// Receiving reports whether a response is partially received.
func (c *Coordinator) Receiving() bool {
	return c.recv != nil && c.recv.Len() > 0
}

// Pending reports whether any work remains: queued bytes, a partial
// response, or owed responses.
func (c *Coordinator) Pending() bool {
	return c.Queued() > 0 || c.Receiving() || c.Outstanding() > 0
}

// Submit queues req, attempts to flush it, and records that a response is
// owed. Once the coordinator is final, an empty Data or a Finish request is
// suppressed: nothing is written and sent is false.
//
// The whole frame is queued or nothing is: a frame that does not fit wraps
// [transport.ErrOverflow].
func (c *Coordinator) Submit(req wire.Request) (sent bool, err error) {
	if c.conn == nil {
		return false, ErrNotConnected
	}
	if wire.Suppressed(req, c.final) {
		if c.observer != nil {
			c.observer.RequestSuppressed(req.Type)
		}
		return false, nil
	}

	n := wire.EncodedLen(req)
	dst, err := c.send.Grow(n)
	if err != nil {
		return false, fmt.Errorf("pipeline: queue %s request: %w", req.Type, err)
	}
	c.send.Commit(len(c.codec.AppendRequest(dst[:0], req)))
	c.corr.Expect(req.Type)
	if req.IsEndOfUtterance() {
		c.final = true
	}
	if c.observer != nil {
		c.observer.RequestSent(req.Type, n)
	}
	return true, c.Flush()
}

// Flush makes one non-blocking attempt to write the queued bytes. A partial
// write keeps the remainder queued; a would-block leaves everything queued.
func (c *Coordinator) Flush() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.send.Len() == 0 {
		return nil
	}
	n, err := c.conn.TryWrite(c.send.Bytes())
	if errors.Is(err, transport.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		return err
	}
	c.send.Consume(n)
	return nil
}

// Poll reads without blocking for as long as responses are owed and bytes
// are available. Each completed response is matched with its request and
// passed to the response handler.
func (c *Coordinator) Poll() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	for c.corr.Outstanding() > 0 {
		var need int
		if c.want < 0 {
			need = wire.ResponseHeaderSize - c.recv.Len()
		} else {
			need = wire.ResponseHeaderSize + c.want - c.recv.Len()
		}

		if need > 0 {
			dst, err := c.recv.Grow(need)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrProtocol, err)
			}
			n, err := c.conn.TryRead(dst)
			if errors.Is(err, transport.ErrWouldBlock) {
				return nil
			}
			if err != nil {
				return err
			}
			c.recv.Commit(n)
			if n < need {
				continue
			}
		}

		if c.want < 0 {
			want, err := c.codec.DecodeResponseHeader(c.recv.Bytes())
			if err != nil {
				return fmt.Errorf("%w: %w", ErrProtocol, err)
			}
			if wire.ResponseHeaderSize+want > c.recv.Cap() {
				return fmt.Errorf("%w: response of %d bytes: %w", ErrProtocol, want, transport.ErrOverflow)
			}
			c.want = want
			continue
		}

		c.complete()
	}
	return nil
}

// complete hands the fully received response to the handler and resets the
// receive state for the next one.
func (c *Coordinator) complete() {
	payload := c.recv.Bytes()[wire.ResponseHeaderSize:]
	t, _ := c.corr.Match()
	if c.observer != nil {
		c.observer.ResponseReceived(t, len(payload))
	}
	if c.onResponse != nil {
		c.onResponse(t, payload)
	}
	c.recv.Reset()
	c.want = -1
}

// Drain blocks until no bytes are queued, no response is partially received
// and no responses are owed. Each wait is bounded by the configured timeout;
// a wait that elapses with work pending fails with [ErrDrainTimeout].
// Cancelling ctx aborts the drain with ctx's error.
func (c *Coordinator) Drain(ctx context.Context) (err error) {
	if c.conn == nil {
		return ErrNotConnected
	}
	start := c.now()
	defer func() {
		if c.observer != nil {
			c.observer.Drained(c.now().Sub(start), err)
		}
	}()

	for c.Pending() {
		var interest transport.Interest
		if c.send.Len() > 0 {
			interest |= transport.Writable
		}
		if c.corr.Outstanding() > 0 || c.Receiving() {
			interest |= transport.Readable
		}

		ready, err := c.conn.Wait(ctx, interest, c.timeout)
		if errors.Is(err, transport.ErrWaitTimeout) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w after %s: %d responses owed, %d bytes queued",
				ErrDrainTimeout, c.timeout, c.corr.Outstanding(), c.send.Len())
		}
		if err != nil {
			return err
		}

		if ready&transport.Writable != 0 {
			if err := c.Flush(); err != nil {
				return err
			}
		}
		if ready&transport.Readable != 0 {
			if err := c.Poll(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset discards queued bytes, any partial response and all owed responses,
// and clears the final flag. It reports whether work was discarded.
func (c *Coordinator) Reset() (discarded bool) {
	discarded = c.Pending()
	if discarded {
		c.log.Debug("pipeline: discarding pending work",
			"queued_bytes", c.Queued(),
			"outstanding", c.Outstanding(),
			"receiving", c.Receiving(),
		)
	}
	if c.send != nil {
		c.send.Reset()
	}
	if c.recv != nil {
		c.recv.Reset()
	}
	c.corr.Reset()
	c.want = -1
	c.final = false
	return discarded
}

// Close closes the connection and then returns both buffers to the
// allocator. It is safe to call more than once.
func (c *Coordinator) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.sendMem != nil {
		c.alloc.Free(c.sendMem)
		c.sendMem, c.send = nil, nil
	}
	if c.recvMem != nil {
		c.alloc.Free(c.recvMem)
		c.recvMem, c.recv = nil, nil
	}
	c.corr.Reset()
	c.want = -1
	return err
}
