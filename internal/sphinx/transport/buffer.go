// Package transport provides the fixed-capacity byte buffers and the
// non-blocking socket underneath a recognizer session.
//
// Buffers never grow. Appending more than the remaining capacity fails with
// [ErrOverflow] and copies nothing; the protocol guarantees that requests and
// responses stay well below [Capacity], so an overflow always indicates a
// protocol violation and is fatal to the session.
package transport

import (
	"errors"
	"fmt"
)

// Capacity is the size in bytes of each send and receive buffer.
const Capacity = 2048

// ErrOverflow is returned when queued bytes plus new bytes would exceed the
// buffer capacity.
var ErrOverflow = errors.New("transport: buffer overflow")

// Buffer is a fixed-capacity byte queue with a read cursor and a write cursor.
// Bytes between the cursors are queued. Consumed space at the front is
// reclaimed lazily: Append compacts only when the tail has no room left.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
	r, w int
}

// NewBuffer wraps backing as an empty buffer. The capacity is len(backing).
func NewBuffer(backing []byte) *Buffer {
	return &Buffer{data: backing[:len(backing):len(backing)]}
}

// Len returns the number of queued bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Free returns how many more bytes can be appended.
func (b *Buffer) Free() int { return len(b.data) - b.Len() }

// Bytes returns the queued bytes. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Append queues p. If p does not fit in the free space, Append returns
// ErrOverflow and leaves the buffer unchanged.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Free() {
		return fmt.Errorf("%w: %d queued + %d new > %d", ErrOverflow, b.Len(), len(p), b.Cap())
	}
	if len(p) > len(b.data)-b.w {
		b.compact()
	}
	b.w += copy(b.data[b.w:], p)
	return nil
}

// Grow reserves n bytes at the tail and returns them for the caller to fill,
// e.g. directly from a socket read. The caller must call Commit with the
// number of bytes actually written.
func (b *Buffer) Grow(n int) ([]byte, error) {
	if n > b.Free() {
		return nil, fmt.Errorf("%w: %d queued + %d new > %d", ErrOverflow, b.Len(), n, b.Cap())
	}
	if n > len(b.data)-b.w {
		b.compact()
	}
	return b.data[b.w : b.w+n], nil
}

// Commit marks n bytes previously returned by Grow as queued.
func (b *Buffer) Commit(n int) {
	if n < 0 || b.w+n > len(b.data) {
		panic("transport: commit out of range")
	}
	b.w += n
}

// Consume discards the first n queued bytes, typically after a partial write.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic("transport: consume out of range")
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Reset discards all queued bytes.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// compact moves the queued bytes to the front of the backing array.
func (b *Buffer) compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r, b.w = 0, n
}
