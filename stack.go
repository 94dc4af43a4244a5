package memgo

import "unsafe"

// Marker is an opaque token capturing a Stack position. Obtain one with
// Mark and hand it back to Release to drop every allocation made in
// between.
type Marker struct {
	offset int
}

// Stack is a LIFO bump allocator over a single caller-owned buffer.
//
// The stack never owns its storage: the caller provides the buffer to
// NewStack and remains responsible for its lifetime. There is no individual
// free; memory is reclaimed in LIFO order via Release or all at once via
// Reset. Releasing invalidates (but does not zero) every allocation made
// after the marker — dereferencing such a slice afterwards is a caller
// contract violation the stack cannot detect.
//
// Not safe for concurrent use.
type Stack struct {
	buf       []byte
	offset    int
	highWater int

	alignment int
	logger    *Logger
	metrics   MetricsCollector
}

// NewStack binds a stack allocator to the given buffer.
func NewStack(buf []byte, opts ...Option) (*Stack, error) {
	if len(buf) == 0 {
		return nil, ErrInvalidSize
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !isPowerOfTwo(cfg.alignment) {
		return nil, &InvalidAlignmentError{Align: cfg.alignment}
	}

	return &Stack{
		buf:       buf,
		alignment: cfg.alignment,
		logger:    cfg.logger.WithAllocator("stack"),
		metrics:   cfg.metrics,
	}, nil
}

// Alloc returns a slice of exactly size bytes with the stack's default
// alignment, or ErrOutOfMemory when the remaining space cannot fit the
// padded request.
func (s *Stack) Alloc(size int) ([]byte, error) {
	return s.AllocAligned(size, s.alignment)
}

// AllocAligned is Alloc with an explicit alignment. align must be a power
// of two.
func (s *Stack) AllocAligned(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if !isPowerOfTwo(align) {
		return nil, &InvalidAlignmentError{Align: align}
	}

	addr := uintptr(unsafe.Pointer(&s.buf[0])) + uintptr(s.offset) //nolint:gosec // alignment requires the real address
	pad := addrPadding(addr, align)

	start := s.offset + pad
	end := start + size
	if end > len(s.buf) {
		s.metrics.RecordAlloc(size, ErrOutOfMemory)
		return nil, ErrOutOfMemory
	}

	s.offset = end
	if end > s.highWater {
		s.highWater = end
	}
	s.metrics.RecordAlloc(size, nil)

	return s.buf[start:end:end], nil
}

// Mark captures the current position.
func (s *Stack) Mark() Marker {
	return Marker{offset: s.offset}
}

// Release rewinds the stack to a previously captured marker, invalidating
// every allocation made after it. A marker pointing past the current
// position was already superseded by an earlier release (out-of-LIFO-order
// use) and is rejected with StaleMarkerError.
func (s *Stack) Release(m Marker) error {
	if m.offset < 0 || m.offset > s.offset {
		return &StaleMarkerError{Reason: "marker position already released"}
	}
	s.offset = m.offset
	return nil
}

// Reset rewinds the stack to empty. Equivalent to releasing a marker taken
// before the first allocation.
func (s *Stack) Reset() {
	s.offset = 0
	s.metrics.RecordReset(0)
}

// Used returns the bytes currently allocated, including alignment padding.
func (s *Stack) Used() int { return s.offset }

// Cap returns the total capacity of the underlying buffer.
func (s *Stack) Cap() int { return len(s.buf) }

// HighWater returns the maximum value Used has reached.
func (s *Stack) HighWater() int { return s.highWater }
