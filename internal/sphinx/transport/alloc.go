package transport

import (
	"errors"
	"sync"
)

// ErrAllocation is returned when backing storage for a buffer cannot be
// obtained.
var ErrAllocation = errors.New("transport: allocation failed")

// Allocator hands out backing arrays of exactly [Capacity] bytes for session
// buffers and takes them back when the session is torn down.
type Allocator interface {
	// Alloc returns a zeroed slice of length Capacity.
	Alloc() ([]byte, error)

	// Free returns a slice obtained from Alloc. The caller must not use it
	// afterwards.
	Free(b []byte)
}

// PoolAllocator recycles buffers through a [sync.Pool]. The zero value is
// ready to use and safe for concurrent use.
type PoolAllocator struct {
	pool sync.Pool
}

// DefaultAllocator is shared by sessions that do not supply their own.
var DefaultAllocator = &PoolAllocator{}

// Alloc returns a zeroed buffer from the pool, allocating a new one if the
// pool is empty.
func (a *PoolAllocator) Alloc() ([]byte, error) {
	if v, ok := a.pool.Get().(*[Capacity]byte); ok {
		clear(v[:])
		return v[:], nil
	}
	return new([Capacity]byte)[:], nil
}

// Free puts b back into the pool. Slices of the wrong size are dropped.
func (a *PoolAllocator) Free(b []byte) {
	if cap(b) != Capacity {
		return
	}
	a.pool.Put((*[Capacity]byte)(b[:Capacity]))
}

// Ensure PoolAllocator implements Allocator at compile time.
var _ Allocator = (*PoolAllocator)(nil)
