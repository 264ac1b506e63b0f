package sphinx

import (
	"context"
	"errors"

	"github.com/MrWong99/sphinxlink/internal/sphinx/pipeline"
	"github.com/MrWong99/sphinxlink/internal/sphinx/transport"
)

// Errors returned by Session methods. Match them with errors.Is. Every one of
// them is fatal to the session: it moves to [NotReady] and must be closed and
// recreated to recover.
var (
	// ErrConnect reports that the server could not be resolved or reached.
	ErrConnect = transport.ErrConnect

	// ErrIO reports a socket failure other than would-block, including the
	// server closing the connection.
	ErrIO = transport.ErrIO

	// ErrBufferOverflow reports an attempt to queue more than the fixed
	// buffer capacity.
	ErrBufferOverflow = transport.ErrOverflow

	// ErrDrainTimeout reports that the server did not answer in time while
	// the session waited for outstanding responses.
	ErrDrainTimeout = pipeline.ErrDrainTimeout

	// ErrAllocation reports that buffers or the detector could not be
	// created.
	ErrAllocation = transport.ErrAllocation

	// ErrProtocol reports a malformed response frame.
	ErrProtocol = pipeline.ErrProtocol

	// ErrNotConnected reports use of a session without a connection.
	ErrNotConnected = pipeline.ErrNotConnected

	// ErrClosed reports use of a session after Close.
	ErrClosed = errors.New("sphinx: session closed")
)

// errorKind classifies err for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrDrainTimeout):
		return "drain_timeout"
	case errors.Is(err, ErrBufferOverflow):
		return "buffer_overflow"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrAllocation):
		return "allocation"
	case errors.Is(err, ErrClosed), errors.Is(err, ErrNotConnected):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
