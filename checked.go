package memgo

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// CheckedPool wraps a Pool with per-block liveness tracking: one bit per
// block plus current/peak counters. Double frees, which silently corrupt
// the raw pool's free list, are detected and returned as DoubleFreeError
// without changing the O(1) allocation complexity.
//
// The cost is one bit of state per block and one bitset probe per
// operation. Use it in tests and in builds where allocator misuse is more
// expensive than the probe; swap in the raw Pool for hot paths once the
// callers are trusted.
type CheckedPool struct {
	pool *Pool
	live *bitset.BitSet

	current int
	peak    int
}

// NewCheckedPool creates a pool with liveness diagnostics. Parameters and
// options are those of NewPool.
func NewCheckedPool(blockSize, blockCount int, opts ...Option) (*CheckedPool, error) {
	p, err := NewPool(blockSize, blockCount, opts...)
	if err != nil {
		return nil, err
	}
	return &CheckedPool{
		pool: p,
		live: bitset.New(uint(blockCount)),
	}, nil
}

// Alloc allocates a block and marks it live.
func (c *CheckedPool) Alloc() ([]byte, error) {
	buf, err := c.pool.Alloc()
	if err != nil {
		return nil, err
	}

	idx, err := c.pool.indexOf(buf)
	if err != nil {
		return nil, err
	}
	c.live.Set(uint(idx))

	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	return buf, nil
}

// Free returns a block, rejecting double frees and foreign blocks.
func (c *CheckedPool) Free(buf []byte) error {
	idx, err := c.pool.indexOf(buf)
	if err != nil {
		return err
	}
	if !c.live.Test(uint(idx)) {
		return &DoubleFreeError{Offset: idx * c.pool.blockSize}
	}
	c.live.Clear(uint(idx))

	if err := c.pool.Free(buf); err != nil {
		return err
	}
	c.current--
	return nil
}

// Current returns the number of live allocations.
func (c *CheckedPool) Current() int { return c.current }

// Peak returns the maximum number of simultaneously live allocations.
func (c *CheckedPool) Peak() int { return c.peak }

// BlockSize returns the fixed block size.
func (c *CheckedPool) BlockSize() int { return c.pool.BlockSize() }

// Cap returns the total number of blocks.
func (c *CheckedPool) Cap() int { return c.pool.Cap() }

// FreeBlocks returns the number of blocks currently on the free list.
func (c *CheckedPool) FreeBlocks() int { return c.pool.FreeBlocks() }

// AssertAllReleased returns an error naming the leak count if any
// allocation is still live. Intended for teardown paths and tests.
func (c *CheckedPool) AssertAllReleased() error {
	if c.current != 0 {
		return fmt.Errorf("memgo: %d pool block(s) still allocated", c.current)
	}
	return nil
}

// Close releases the backing memory to the Provider.
func (c *CheckedPool) Close() error {
	return c.pool.Close()
}
