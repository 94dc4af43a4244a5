package memgo

import (
	"context"
	"encoding/binary"
	"unsafe"
)

// poolLinkSize is the number of bytes of a free block used to store the
// intrusive free-list link.
const poolLinkSize = 8

// poolNilLink terminates the free list.
const poolNilLink = ^uint64(0)

// Pool is a fixed-block-size allocator with an intrusive free list.
//
// Every block is the same size, so allocation and free are O(1) pops and
// pushes with no search and no external fragmentation within the class. The
// free list lives inside the free blocks themselves: the first eight bytes
// of a free block hold the index of the next free block (little-endian),
// rather than a reinterpreted raw pointer, so the link survives without
// unsafe aliasing. Consequently blockSize must be at least 8 and the first
// word of a freshly allocated block contains a stale link value — callers
// must treat block contents as undefined.
//
// Free checks that the returned slice lies inside the pool's backing memory
// and is block-aligned (ForeignBlockError otherwise), but it does NOT detect
// double free or use after free: those silently corrupt the free list. That
// is the documented trade-off of the minimal design; wrap the pool with
// NewCheckedPool when detection is required.
//
// Not safe for concurrent use.
type Pool struct {
	blockSize  int
	blockCount int

	block    *Block
	backing  []byte
	provider Provider

	freeHead  int // block index, -1 when exhausted
	freeCount int
	closed    bool

	logger  *Logger
	metrics MetricsCollector
}

// NewPool creates a pool of blockCount blocks of blockSize bytes each,
// acquired as one contiguous region from the configured Provider. Blocks are
// pre-linked into the free list in address order, so a fresh pool hands out
// ascending addresses.
func NewPool(blockSize, blockCount int, opts ...Option) (*Pool, error) {
	if blockSize < poolLinkSize {
		return nil, &InvalidBlockSizeError{Size: blockSize, Min: poolLinkSize}
	}
	if blockCount <= 0 {
		return nil, ErrInvalidSize
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	block, err := cfg.provider.Acquire(context.Background(), blockSize*blockCount)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		blockSize:  blockSize,
		blockCount: blockCount,
		block:      block,
		backing:    block.Bytes(),
		provider:   cfg.provider,
		freeHead:   0,
		freeCount:  blockCount,
		logger:     cfg.logger.WithAllocator("pool"),
		metrics:    cfg.metrics,
	}
	cfg.metrics.RecordGrow(blockSize * blockCount)

	for i := 0; i < blockCount; i++ {
		next := poolNilLink
		if i+1 < blockCount {
			next = uint64(i + 1)
		}
		binary.LittleEndian.PutUint64(p.backing[i*blockSize:], next)
	}

	return p, nil
}

// Alloc pops the head of the free list and returns the block, or
// ErrOutOfMemory when the pool is exhausted. Block contents are undefined.
func (p *Pool) Alloc() ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.freeHead < 0 {
		p.metrics.RecordAlloc(p.blockSize, ErrOutOfMemory)
		return nil, ErrOutOfMemory
	}

	off := p.freeHead * p.blockSize
	next := binary.LittleEndian.Uint64(p.backing[off:])
	if next == poolNilLink {
		p.freeHead = -1
	} else {
		p.freeHead = int(next)
	}
	p.freeCount--
	p.metrics.RecordAlloc(p.blockSize, nil)

	return p.backing[off : off+p.blockSize : off+p.blockSize], nil
}

// Free pushes a block back onto the free list head. buf must start at the
// first byte of a block obtained from this pool; its length is ignored, so
// slices shortened by a Slab round-trip are accepted.
func (p *Pool) Free(buf []byte) error {
	if p.closed {
		return ErrClosed
	}
	idx, err := p.indexOf(buf)
	if err != nil {
		return err
	}
	p.pushFree(idx)
	p.metrics.RecordFree(p.blockSize)
	return nil
}

func (p *Pool) pushFree(idx int) {
	next := poolNilLink
	if p.freeHead >= 0 {
		next = uint64(p.freeHead)
	}
	binary.LittleEndian.PutUint64(p.backing[idx*p.blockSize:], next)
	p.freeHead = idx
	p.freeCount++
}

// indexOf maps buf back to its block index, verifying ownership and
// alignment.
func (p *Pool) indexOf(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, &ForeignBlockError{Allocator: "pool", cause: ErrInvalidSize}
	}

	base := uintptr(unsafe.Pointer(&p.backing[0])) //nolint:gosec // ownership check requires the real address
	addr := uintptr(unsafe.Pointer(&buf[0]))       //nolint:gosec // ownership check requires the real address
	if addr < base || addr >= base+uintptr(len(p.backing)) {
		return 0, &ForeignBlockError{Allocator: "pool"}
	}

	off := int(addr - base)
	if off%p.blockSize != 0 {
		return 0, &ForeignBlockError{Allocator: "pool"}
	}
	return off / p.blockSize, nil
}

// BlockSize returns the fixed block size.
func (p *Pool) BlockSize() int { return p.blockSize }

// Cap returns the total number of blocks.
func (p *Pool) Cap() int { return p.blockCount }

// FreeBlocks returns the number of blocks currently on the free list.
func (p *Pool) FreeBlocks() int { return p.freeCount }

// Close releases the backing memory to the Provider. All outstanding blocks
// become invalid.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.backing = nil
	p.freeHead = -1
	p.freeCount = 0
	return p.provider.Release(p.block)
}
