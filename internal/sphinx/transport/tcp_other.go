//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import (
	"context"
	"fmt"
	"runtime"
)

// DialConn always fails on this platform; the transport needs poll(2).
func DialConn(_ context.Context, address string) (Conn, error) {
	return nil, fmt.Errorf("%w: %s: non-blocking transport not supported on %s", ErrConnect, address, runtime.GOOS)
}
