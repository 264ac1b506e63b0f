//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TCPConn is a [Conn] over a TCP socket. Reads and writes go straight to the
// file descriptor and never park the goroutine; readiness is multiplexed
// with poll(2).
type TCPConn struct {
	conn *net.TCPConn
	raw  syscall.RawConn

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to address ("host:port") with a single attempt. The returned
// connection is ready for non-blocking use. Failures wrap ErrConnect.
func Dial(ctx context.Context, address string) (*TCPConn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrConnect, c)
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		tc.Close()
		return nil, fmt.Errorf("%w: raw socket: %w", ErrConnect, err)
	}
	// The runtime already opened the descriptor non-blocking; make sure it
	// stays that way since we bypass the poller for reads and writes.
	var nbErr error
	if err := raw.Control(func(fd uintptr) {
		nbErr = unix.SetNonblock(int(fd), true)
	}); err != nil {
		nbErr = err
	}
	if nbErr != nil {
		tc.Close()
		return nil, fmt.Errorf("%w: set non-blocking: %w", ErrConnect, nbErr)
	}
	return &TCPConn{conn: tc, raw: raw}, nil
}

// DialConn is [Dial] with its result typed as [Conn]. It satisfies
// [DialFunc].
func DialConn(ctx context.Context, address string) (Conn, error) {
	c, err := Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LocalAddr returns the local network address.
func (c *TCPConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *TCPConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// TryRead implements [Conn].
func (c *TCPConn) TryRead(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n     int
		opErr error
	)
	if err := c.raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	}); err != nil {
		return 0, fmt.Errorf("%w: read: %w", ErrIO, err)
	}
	switch {
	case isTemporary(opErr):
		return 0, ErrWouldBlock
	case opErr != nil:
		return 0, fmt.Errorf("%w: read: %w", ErrIO, opErr)
	case n == 0:
		return 0, fmt.Errorf("%w: read: %w", ErrIO, io.EOF)
	}
	return n, nil
}

// TryWrite implements [Conn].
func (c *TCPConn) TryWrite(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n     int
		opErr error
	)
	if err := c.raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), p)
		return true
	}); err != nil {
		return 0, fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	switch {
	case isTemporary(opErr):
		return 0, ErrWouldBlock
	case opErr != nil:
		return 0, fmt.Errorf("%w: write: %w", ErrIO, opErr)
	}
	return n, nil
}

// pollSlice bounds a single poll(2) call so Wait notices a cancelled context
// while the socket stays idle.
const pollSlice = 20 * time.Millisecond

// Wait implements [Conn] with poll(2). The timeout is shortened to the
// context deadline when that comes first, and cancellation is checked
// between poll slices.
func (c *TCPConn) Wait(ctx context.Context, interest Interest, timeout time.Duration) (Interest, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if interest == 0 {
		return 0, nil
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	var events int16
	if interest&Readable != 0 {
		events |= unix.POLLIN
	}
	if interest&Writable != 0 {
		events |= unix.POLLOUT
	}

	var (
		revents int16
		pollErr error
		ctxErr  error
	)
	err := c.raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		for {
			remaining := time.Until(deadline)
			slice := min(max(remaining, 0), pollSlice)
			ms := int((slice + time.Millisecond - 1) / time.Millisecond)
			n, err := unix.Poll(fds, ms)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				pollErr = err
				return
			}
			if n > 0 {
				revents = fds[0].Revents
				return
			}
			if remaining <= slice {
				pollErr = ErrWaitTimeout
				return
			}
			if ctxErr = ctx.Err(); ctxErr != nil {
				return
			}
		}
	})
	if err != nil {
		return 0, fmt.Errorf("%w: poll: %w", ErrIO, err)
	}
	if ctxErr != nil {
		return 0, ctxErr
	}
	if pollErr != nil {
		if errors.Is(pollErr, ErrWaitTimeout) {
			return 0, ErrWaitTimeout
		}
		return 0, fmt.Errorf("%w: poll: %w", ErrIO, pollErr)
	}
	if revents&unix.POLLNVAL != 0 {
		return 0, fmt.Errorf("%w: poll: invalid descriptor", ErrIO)
	}

	// Error and hang-up conditions are reported as ready so the following
	// read or write surfaces the actual failure.
	var ready Interest
	if interest&Readable != 0 && revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		ready |= Readable
	}
	if interest&Writable != 0 && revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
		ready |= Writable
	}
	return ready, nil
}

// Close implements [Conn].
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// Ensure TCPConn implements Conn at compile time.
var _ Conn = (*TCPConn)(nil)
