package memgo

import (
	"context"
	"encoding/binary"
	"math/bits"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// DefaultBuddyMinBlockSize is the default split granularity (order 0).
	DefaultBuddyMinBlockSize = 64

	// buddyHeaderSize is the per-allocation header: 4 bytes magic, 4 bytes
	// order.
	buddyHeaderSize = 8

	// buddyMinBlockFloor is the smallest supported split granularity: the
	// header plus at least one word of payload.
	buddyMinBlockFloor = 16

	// buddyMagic marks a live allocation header. Cleared on free, so a
	// second free of the same block is detected instead of corrupting the
	// free sets.
	buddyMagic uint32 = 0xB1DDA110
)

// Buddy is a variable-size allocator over one power-of-two region.
//
// The region is managed as blocks of size minBlockSize<<order. Allocation
// finds the smallest free block that fits the request plus an 8-byte header
// and splits it in half repeatedly until the fitting order is reached; each
// split produces two equal "buddy" blocks whose addresses differ only in
// the bit at the block size. Free coalesces eagerly and strictly upward
// order by order: whenever a block's buddy is free at the same order the
// pair merges into the next order and the check repeats. The allocator
// therefore maintains the invariant that no two free buddies ever coexist
// uncoalesced — larger orders are always accurately available.
//
// Each order's free set is a roaring bitmap of min-block indices: buddy
// lookup during coalescing is a membership test, and allocation pops the
// lowest free offset, which keeps the layout deterministic.
//
// External fragmentation is bounded by the power-of-two rounding (at most
// 2x per allocation, counted as internal fragmentation of the block).
//
// Not safe for concurrent use.
type Buddy struct {
	region []byte
	block  *Block // nil when the region is caller-owned

	provider Provider

	minBlockSize int
	minShift     int
	maxOrder     int // region size == minBlockSize << maxOrder

	free []*roaring.Bitmap // per order, values are offset >> minShift

	closed  bool
	logger  *Logger
	metrics MetricsCollector
}

// NewBuddy acquires a region from the configured Provider and manages it as
// a buddy system. totalSize is rounded up to the nearest power of two and
// to at least the minimum block size; the whole region starts as one free
// block of the maximum order.
func NewBuddy(totalSize int, opts ...Option) (*Buddy, error) {
	if totalSize <= 0 {
		return nil, ErrInvalidSize
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateMinBlockSize(cfg.minBlockSize); err != nil {
		return nil, err
	}

	size := nextPowerOfTwo(totalSize)
	if size < cfg.minBlockSize {
		size = cfg.minBlockSize
	}

	block, err := cfg.provider.Acquire(context.Background(), size)
	if err != nil {
		return nil, err
	}
	cfg.metrics.RecordGrow(size)

	return newBuddy(block.Bytes(), block, cfg)
}

// NewBuddyOver manages a caller-owned buffer as a buddy system. The buffer
// length must be a power of two and at least the minimum block size; the
// caller retains responsibility for the buffer's lifetime and Close does
// not release it.
func NewBuddyOver(buf []byte, opts ...Option) (*Buddy, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateMinBlockSize(cfg.minBlockSize); err != nil {
		return nil, err
	}
	if len(buf) < cfg.minBlockSize || !isPowerOfTwo(len(buf)) {
		return nil, &InvalidBlockSizeError{Size: len(buf), Min: cfg.minBlockSize}
	}

	return newBuddy(buf, nil, cfg)
}

func validateMinBlockSize(size int) error {
	if size < buddyMinBlockFloor || !isPowerOfTwo(size) {
		return &InvalidBlockSizeError{Size: size, Min: buddyMinBlockFloor}
	}
	return nil
}

func newBuddy(region []byte, block *Block, cfg config) (*Buddy, error) {
	minShift := bits.TrailingZeros(uint(cfg.minBlockSize))
	maxOrder := bits.TrailingZeros(uint(len(region))) - minShift

	b := &Buddy{
		region:       region,
		block:        block,
		provider:     cfg.provider,
		minBlockSize: cfg.minBlockSize,
		minShift:     minShift,
		maxOrder:     maxOrder,
		free:         make([]*roaring.Bitmap, maxOrder+1),
		logger:       cfg.logger.WithAllocator("buddy"),
		metrics:      cfg.metrics,
	}
	for i := range b.free {
		b.free[i] = roaring.New()
	}
	b.free[maxOrder].Add(0)

	return b, nil
}

// blockSize returns the byte size of a block of the given order.
func (b *Buddy) blockSize(order int) int {
	return b.minBlockSize << order
}

// orderFor returns the minimal order whose block size is >= n.
func (b *Buddy) orderFor(n int) int {
	if n <= b.minBlockSize {
		return 0
	}
	return bits.Len(uint(n-1)) - b.minShift
}

// Alloc returns a slice of exactly size bytes carved from the smallest
// free block that fits size plus the header. ErrOutOfMemory is returned
// when no free list from the fitting order upward has a block; the
// allocator stays valid and the caller may free and retry or fall back to
// its Provider.
func (b *Buddy) Alloc(size int) ([]byte, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	need := size + buddyHeaderSize
	if need > len(b.region) {
		b.metrics.RecordAlloc(size, ErrOutOfMemory)
		return nil, ErrOutOfMemory
	}

	k := b.orderFor(need)

	// First non-empty order at or above k.
	j := k
	for j <= b.maxOrder && b.free[j].IsEmpty() {
		j++
	}
	if j > b.maxOrder {
		b.metrics.RecordAlloc(size, ErrOutOfMemory)
		return nil, ErrOutOfMemory
	}

	idx := b.free[j].Minimum()
	b.free[j].Remove(idx)
	off := int(idx) << b.minShift

	// Split downward: keep the left half, push the right half one order
	// down, until a block of order k remains.
	for j > k {
		j--
		right := off + b.blockSize(j)
		b.free[j].Add(uint32(right >> b.minShift))
	}

	binary.LittleEndian.PutUint32(b.region[off:], buddyMagic)
	binary.LittleEndian.PutUint32(b.region[off+4:], uint32(k))

	b.metrics.RecordAlloc(size, nil)
	start := off + buddyHeaderSize
	return b.region[start : start+size : off+b.blockSize(k)], nil
}

// Free returns buf's block to the free sets, coalescing eagerly and
// strictly upward: as long as the block's buddy is free at the same order
// the pair merges into one block of the next order. buf must be the slice
// Alloc returned (re-slicing from the front breaks the header lookup and is
// rejected).
func (b *Buddy) Free(buf []byte) error {
	if b.closed {
		return ErrClosed
	}
	if len(buf) == 0 {
		return &ForeignBlockError{Allocator: "buddy"}
	}

	base := uintptr(unsafe.Pointer(&b.region[0])) //nolint:gosec // ownership check requires the real address
	addr := uintptr(unsafe.Pointer(&buf[0]))      //nolint:gosec // ownership check requires the real address
	if addr < base+buddyHeaderSize || addr >= base+uintptr(len(b.region)) {
		return &ForeignBlockError{Allocator: "buddy"}
	}

	off := int(addr-base) - buddyHeaderSize
	if off%b.minBlockSize != 0 {
		return &ForeignBlockError{Allocator: "buddy"}
	}

	if binary.LittleEndian.Uint32(b.region[off:]) != buddyMagic {
		return &DoubleFreeError{Offset: off}
	}
	k := int(binary.LittleEndian.Uint32(b.region[off+4:]))
	if k > b.maxOrder || off%b.blockSize(k) != 0 {
		return &ForeignBlockError{Allocator: "buddy"}
	}

	binary.LittleEndian.PutUint32(b.region[off:], 0) // clear magic

	freed := b.blockSize(k) - buddyHeaderSize
	for k < b.maxOrder {
		buddyOff := off ^ b.blockSize(k)
		buddyIdx := uint32(buddyOff >> b.minShift)
		if !b.free[k].Contains(buddyIdx) {
			break
		}
		b.free[k].Remove(buddyIdx)
		off &^= b.blockSize(k) // merged block starts at the lower buddy
		k++
	}
	b.free[k].Add(uint32(off >> b.minShift))

	b.metrics.RecordFree(freed)
	return nil
}

// FreeBytes returns the total bytes currently on the free sets, headers
// not yet deducted (a block of order k yields blockSize(k)-8 usable bytes
// once allocated).
func (b *Buddy) FreeBytes() int {
	total := 0
	for order, set := range b.free {
		total += int(set.GetCardinality()) * b.blockSize(order)
	}
	return total
}

// MaxAlloc returns the largest single request the buddy can ever satisfy.
func (b *Buddy) MaxAlloc() int {
	return len(b.region) - buddyHeaderSize
}

// Close releases the region to the Provider. Regions bound with
// NewBuddyOver stay with their caller.
func (b *Buddy) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.region = nil
	b.free = nil
	if b.block == nil {
		return nil
	}
	return b.provider.Release(b.block)
}
