package health

import (
	"context"
	"fmt"
	"net"
)

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialCheck returns a Checker that succeeds when a connection to address can
// be opened. The connection is closed immediately; nothing is sent.
func DialCheck(name, network, address string, d Dialer) Checker {
	if d == nil {
		d = &net.Dialer{}
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			conn, err := d.DialContext(ctx, network, address)
			if err != nil {
				return fmt.Errorf("dial %s %s: %w", network, address, err)
			}
			return conn.Close()
		},
	}
}

// RecognizerCheck checks the recognition server at the "host:port" address.
func RecognizerCheck(address string) Checker {
	return DialCheck("recognizer", "tcp", address, nil)
}
