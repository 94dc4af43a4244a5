package memgo

import "unsafe"

// DefaultAlignment is the alignment applied when the caller does not request
// one. Eight bytes satisfies every Go scalar type.
const DefaultAlignment = 8

// isPowerOfTwo reports whether n is a positive power of two.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// alignUp rounds n up to the next multiple of align. align must be a power
// of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// nextPowerOfTwo rounds n up to the next power of two. n must be positive.
func nextPowerOfTwo(n int) int {
	if isPowerOfTwo(n) {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// addrPadding returns the padding needed so that addr+padding is a multiple
// of align. align must be a power of two.
func addrPadding(addr uintptr, align int) int {
	mask := uintptr(align - 1)
	return int((uintptr(align) - (addr & mask)) & mask)
}

// AllocAligned allocates a GC-managed byte slice of the given size whose
// first byte sits at an address divisible by align. It over-allocates by up
// to align-1 bytes to find the aligned offset; the underlying array is kept
// alive by the returned slice.
//
// Use this for buffers handed to NewStack or NewBuddyOver when the consumer
// needs stronger alignment than the runtime guarantees.
func AllocAligned(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if !isPowerOfTwo(align) {
		return nil, &InvalidAlignmentError{Align: align}
	}

	buf := make([]byte, size+align)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // alignment requires the real address
	offset := addrPadding(addr, align)

	return buf[offset : offset+size : offset+size], nil
}
