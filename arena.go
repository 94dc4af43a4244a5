package memgo

import (
	"context"
	"fmt"
	"unsafe"
)

// Ref is a stable reference to an arena allocation: the acquiring block's
// index in the high 32 bits and the offset within that block in the low 32.
// Unlike the returned slice, a Ref survives Snapshot/RestoreArena.
type Ref uint64

func makeRef(blockIndex, offset int) Ref {
	return Ref(uint64(blockIndex)<<32 | uint64(uint32(offset)))
}

func (r Ref) blockIndex() int { return int(uint64(r) >> 32) }
func (r Ref) offset() int     { return int(uint32(uint64(r))) }

// ArenaMarker captures an arena position for nested temporary scopes. It is
// the chain-spanning analogue of the stack Marker: releasing to it frees
// every block acquired after the mark and rewinds the marked block.
type ArenaMarker struct {
	generation uint32
	blocks     int
	used       int
}

type arenaBlock struct {
	block     *Block
	used      int
	dedicated bool
}

// Arena is a monotonic bump allocator over a growable chain of blocks.
//
// Allocation bumps an offset in the active block; when the block is full a
// new default-sized block is acquired from the Provider and becomes the
// active front of the chain. A single request larger than the default block
// size gets a dedicated block sized exactly to the request, so oversized
// allocations never strand a default-sized remainder.
//
// There is no individual free — that is the defining trade-off: O(1)
// allocation with zero per-object bookkeeping, paid for by bulk-only
// reclamation. Reset releases every block except the original and rewinds
// it, targeting the per-request reuse pattern without re-acquiring backing
// memory each cycle.
//
// Not safe for concurrent use.
type Arena struct {
	defaultBlockSize int
	alignment        int

	provider Provider
	blocks   []*arenaBlock // blocks[len-1] is the active front

	generation  uint32
	totalAllocs int
	bytesUsed   int
	closed      bool

	logger  *Logger
	metrics MetricsCollector
}

// NewArena creates an arena and acquires its first block of
// defaultBlockSize bytes from the configured Provider.
func NewArena(defaultBlockSize int, opts ...Option) (*Arena, error) {
	if defaultBlockSize <= 0 {
		return nil, ErrInvalidSize
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !isPowerOfTwo(cfg.alignment) {
		return nil, &InvalidAlignmentError{Align: cfg.alignment}
	}

	a := &Arena{
		defaultBlockSize: defaultBlockSize,
		alignment:        cfg.alignment,
		provider:         cfg.provider,
		generation:       1, // 0 is never a valid generation
		logger:           cfg.logger.WithAllocator("arena"),
		metrics:          cfg.metrics,
	}

	if _, err := a.grow(defaultBlockSize, false); err != nil {
		return nil, err
	}
	return a, nil
}

// Alloc returns a slice of exactly size bytes with the arena's default
// alignment.
func (a *Arena) Alloc(size int) ([]byte, error) {
	_, buf, err := a.allocAligned(size, a.alignment)
	return buf, err
}

// AllocAligned is Alloc with an explicit alignment. align must be a power
// of two.
func (a *Arena) AllocAligned(size, align int) ([]byte, error) {
	if !isPowerOfTwo(align) {
		return nil, &InvalidAlignmentError{Align: align}
	}
	_, buf, err := a.allocAligned(size, align)
	return buf, err
}

// AllocOffset is Alloc returning an additional Ref that stays valid across
// Snapshot/RestoreArena. Resolve it with Get.
func (a *Arena) AllocOffset(size int) (Ref, []byte, error) {
	return a.allocAligned(size, a.alignment)
}

func (a *Arena) allocAligned(size, align int) (Ref, []byte, error) {
	if a.closed {
		return 0, nil, ErrClosed
	}
	if size <= 0 {
		return 0, nil, ErrInvalidSize
	}

	active := a.blocks[len(a.blocks)-1]
	buf, start, ok := bump(active, size, align)
	if !ok {
		// The padded request may exceed the default block size; such a
		// request gets a dedicated block sized exactly to it.
		reqSize := size
		if align > DefaultAlignment {
			reqSize += align
		}

		var err error
		if reqSize > a.defaultBlockSize {
			active, err = a.grow(reqSize, true)
		} else {
			active, err = a.grow(a.defaultBlockSize, false)
		}
		if err != nil {
			a.metrics.RecordAlloc(size, err)
			return 0, nil, err
		}

		buf, start, ok = bump(active, size, align)
		if !ok {
			// A fresh block always fits the request it was sized for.
			return 0, nil, fmt.Errorf("memgo: arena block sizing bug: size=%d align=%d block=%d", size, align, active.block.Size())
		}
	}

	a.totalAllocs++
	a.bytesUsed += size
	a.metrics.RecordAlloc(size, nil)

	return makeRef(len(a.blocks)-1, start), buf, nil
}

// bump carves size bytes out of b at the next align-correct address.
func bump(b *arenaBlock, size, align int) ([]byte, int, bool) {
	data := b.block.Bytes()

	addr := uintptr(unsafe.Pointer(&data[0])) + uintptr(b.used) //nolint:gosec // alignment requires the real address
	pad := addrPadding(addr, align)

	start := b.used + pad
	end := start + size
	if end > len(data) {
		return nil, 0, false
	}
	b.used = end
	return data[start:end:end], start, true
}

func (a *Arena) grow(size int, dedicated bool) (*arenaBlock, error) {
	block, err := a.provider.Acquire(context.Background(), size)
	if err != nil {
		return nil, err
	}
	nb := &arenaBlock{block: block, dedicated: dedicated}
	a.blocks = append(a.blocks, nb)

	a.metrics.RecordGrow(size)
	a.logger.Debug("arena grew", "block_size", size, "dedicated", dedicated, "blocks", len(a.blocks))
	return nb, nil
}

// Get resolves a Ref to the bytes between its offset and the owning block's
// used watermark. It returns nil for references that no longer describe
// live memory (released, reset, or never valid). The slice is at least as
// long as the referenced allocation; the caller knows the exact length.
func (a *Arena) Get(ref Ref) []byte {
	idx, off := ref.blockIndex(), ref.offset()
	if a.closed || idx >= len(a.blocks) {
		return nil
	}
	b := a.blocks[idx]
	if off >= b.used {
		return nil
	}
	return b.block.Bytes()[off:b.used]
}

// Mark captures the current chain position for a nested temporary scope.
func (a *Arena) Mark() ArenaMarker {
	active := a.blocks[len(a.blocks)-1]
	return ArenaMarker{
		generation: a.generation,
		blocks:     len(a.blocks),
		used:       active.used,
	}
}

// ReleaseToMark frees every block acquired after the marker and rewinds the
// marked block, invalidating all allocations made since Mark. Markers from
// a previous generation (taken before a Reset) and markers describing a
// position already released are rejected with StaleMarkerError.
func (a *Arena) ReleaseToMark(m ArenaMarker) error {
	if a.closed {
		return ErrClosed
	}
	if m.generation != a.generation {
		return &StaleMarkerError{Reason: "marker from a previous arena generation"}
	}
	if m.blocks <= 0 || m.blocks > len(a.blocks) {
		return &StaleMarkerError{Reason: "marker block no longer in the chain"}
	}
	if m.blocks == len(a.blocks) && m.used > a.blocks[m.blocks-1].used {
		return &StaleMarkerError{Reason: "marker position already released"}
	}

	released := 0
	for _, b := range a.blocks[m.blocks:] {
		a.releaseBlock(b)
		released++
	}
	a.blocks = a.blocks[:m.blocks]
	a.blocks[m.blocks-1].used = m.used

	if released > 0 {
		a.metrics.RecordReset(released)
	}
	return nil
}

// Reset releases every block except the original and rewinds it to empty.
// All outstanding slices, Refs, and markers become invalid.
func (a *Arena) Reset() {
	if a.closed {
		return
	}

	released := 0
	for _, b := range a.blocks[1:] {
		a.releaseBlock(b)
		released++
	}
	a.blocks = a.blocks[:1]
	a.blocks[0].used = 0

	a.generation++
	a.bytesUsed = 0
	a.metrics.RecordReset(released)
	a.logger.Debug("arena reset", "blocks_released", released)
}

// Close releases every block including the original. The arena cannot be
// reused afterwards.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for _, b := range a.blocks {
		if err := a.provider.Release(b.block); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.blocks = nil
	a.generation++
	return firstErr
}

func (a *Arena) releaseBlock(b *arenaBlock) {
	if err := a.provider.Release(b.block); err != nil {
		a.logger.Warn("arena block release failed", "error", err)
	}
}

// ArenaStats describes the arena's current footprint.
type ArenaStats struct {
	ActiveBlocks  int
	BytesReserved int
	BytesUsed     int
	TotalAllocs   int
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() ArenaStats {
	s := ArenaStats{
		ActiveBlocks: len(a.blocks),
		BytesUsed:    a.bytesUsed,
		TotalAllocs:  a.totalAllocs,
	}
	for _, b := range a.blocks {
		s.BytesReserved += b.block.Size()
	}
	return s
}

func (a *Arena) String() string {
	s := a.Stats()
	return fmt.Sprintf("Arena{blocks: %d, reserved: %d B, used: %d B, allocs: %d}",
		s.ActiveBlocks, s.BytesReserved, s.BytesUsed, s.TotalAllocs)
}
