package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrWouldBlock is returned by TryRead and TryWrite when the socket is
	// not ready. It is never fatal; the operation should be retried later.
	ErrWouldBlock = errors.New("transport: operation would block")

	// ErrWaitTimeout is returned by Wait when none of the requested
	// conditions became true within the timeout.
	ErrWaitTimeout = errors.New("transport: wait timed out")

	// ErrIO wraps socket failures other than would-block, including the peer
	// closing the connection.
	ErrIO = errors.New("transport: i/o error")

	// ErrConnect wraps resolution and connection failures from Dial.
	ErrConnect = errors.New("transport: connect failed")
)

// Interest is a set of socket readiness conditions.
type Interest uint8

const (
	// Readable means a read would not block.
	Readable Interest = 1 << iota

	// Writable means a write would not block.
	Writable
)

// String returns a compact representation such as "read|write".
func (i Interest) String() string {
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "read")
	}
	if i&Writable != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Conn is a non-blocking byte stream. Implementations are used from a single
// goroutine; they need not be safe for concurrent use.
type Conn interface {
	// TryRead reads whatever is immediately available into p. It returns
	// ErrWouldBlock when nothing is available and an error wrapping ErrIO on
	// any other failure, including end of stream.
	TryRead(p []byte) (int, error)

	// TryWrite writes as much of p as the socket accepts without blocking.
	// It returns ErrWouldBlock when nothing could be written.
	TryWrite(p []byte) (int, error)

	// Wait blocks until at least one of the conditions in interest holds,
	// timeout elapses, or ctx is done. It reports which conditions hold. A
	// timeout is reported as ErrWaitTimeout.
	Wait(ctx context.Context, interest Interest, timeout time.Duration) (Interest, error)

	// Close closes the socket. Calling Close more than once is safe.
	Close() error
}

// DialFunc opens a [Conn] to address ("host:port"). [DialConn] is the
// default implementation; tests substitute in-memory connections.
type DialFunc func(ctx context.Context, address string) (Conn, error)

// Ensure DialConn matches DialFunc at compile time.
var _ DialFunc = DialConn
