package memgo

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when a request cannot currently be
	// satisfied. It is always recoverable: the allocator stays valid and
	// the caller may retry after freeing, reset, or fall back to the heap.
	ErrOutOfMemory = errors.New("memgo: out of memory")
	// ErrClosed is returned when operating on a closed allocator.
	ErrClosed = errors.New("memgo: allocator is closed")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("memgo: invalid allocation size")
)

// InvalidAlignmentError indicates a requested alignment that is not a power
// of two. This is a caller precondition violation, not a recoverable state.
type InvalidAlignmentError struct {
	Align int
}

func (e *InvalidAlignmentError) Error() string {
	return fmt.Sprintf("memgo: alignment must be a power of two, got %d", e.Align)
}

// InvalidBlockSizeError indicates a fixed block size below the minimum the
// allocator needs for its own bookkeeping (pool free-list links, buddy
// headers).
type InvalidBlockSizeError struct {
	Size int
	Min  int
}

func (e *InvalidBlockSizeError) Error() string {
	return fmt.Sprintf("memgo: block size %d below minimum %d", e.Size, e.Min)
}

// ForeignBlockError indicates a Free of memory the allocator does not own:
// the pointer lies outside the backing region or is not block-aligned.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ForeignBlockError struct {
	Allocator string
	cause     error
}

func (e *ForeignBlockError) Error() string {
	return fmt.Sprintf("memgo: block does not belong to this %s", e.Allocator)
}

func (e *ForeignBlockError) Unwrap() error { return e.cause }

// DoubleFreeError indicates a Free of a block that is already free. Only
// allocators that keep per-block liveness state (CheckedPool, Buddy) can
// detect this; the core Pool silently corrupts its free list instead, which
// is the documented trade-off of the minimal design.
type DoubleFreeError struct {
	Offset int
}

func (e *DoubleFreeError) Error() string {
	return fmt.Sprintf("memgo: double free of block at offset %d", e.Offset)
}

// StaleMarkerError indicates a Release with a marker that no longer
// describes a reachable state: it was taken from another allocator
// generation, or it points past the current position (out-of-LIFO-order
// release).
type StaleMarkerError struct {
	Reason string
}

func (e *StaleMarkerError) Error() string {
	return fmt.Sprintf("memgo: stale marker: %s", e.Reason)
}
