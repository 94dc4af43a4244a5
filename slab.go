package memgo

import (
	"context"
	"fmt"
	"sort"
)

// SizeClass configures one pool of a Slab: every block in the class is Size
// bytes and the class holds Count blocks.
type SizeClass struct {
	Size  int
	Count int
}

// GeometricClasses builds a size-class ladder from minSize up to (at least)
// maxSize, growing by factor per step, with blocksPerClass blocks in each
// class. Sizes are rounded up to 8-byte multiples. Factor 1.5 is the usual
// balance between class count and internal fragmentation.
func GeometricClasses(minSize, maxSize int, factor float64, blocksPerClass int) []SizeClass {
	if minSize < poolLinkSize {
		minSize = poolLinkSize
	}
	if factor <= 1 {
		factor = 1.5
	}

	var classes []SizeClass
	size := alignUp(minSize, poolLinkSize)
	for {
		classes = append(classes, SizeClass{Size: size, Count: blocksPerClass})
		if size >= maxSize {
			return classes
		}
		next := alignUp(int(float64(size)*factor), poolLinkSize)
		if next <= size {
			next = size + poolLinkSize
		}
		size = next
	}
}

// Slab routes variable-size requests to a ladder of fixed-size pools.
//
// Alloc selects the smallest class whose size satisfies the request and
// delegates to that class's Pool; requests beyond the largest class bypass
// the pools entirely and go straight to the Provider, tracked in a side
// table so Free knows not to push them onto a pool free list.
//
// Free recomputes the class from len(buf) with the same pure function Alloc
// used. This is the central correctness contract of a size-class allocator:
// the length at Free time must be the length Alloc returned. A re-sliced
// buffer routes to a different class whose pool does not own the memory and
// is rejected with ForeignBlockError; a re-slice that still lands in the
// original class is accepted. Never re-slice a slab allocation before
// freeing it.
//
// Not safe for concurrent use.
type Slab struct {
	classSizes []int // ascending
	pools      []*Pool

	provider  Provider
	unmanaged map[*byte]*Block

	closed  bool
	logger  *Logger
	metrics MetricsCollector
}

// NewSlab creates one Pool per size class. Class sizes must be strictly
// increasing and at least 8 bytes.
func NewSlab(classes []SizeClass, opts ...Option) (*Slab, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("memgo: slab needs at least one size class")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Slab{
		classSizes: make([]int, len(classes)),
		pools:      make([]*Pool, len(classes)),
		provider:   cfg.provider,
		unmanaged:  make(map[*byte]*Block),
		logger:     cfg.logger.WithAllocator("slab"),
		metrics:    cfg.metrics,
	}

	for i, cl := range classes {
		if i > 0 && cl.Size <= classes[i-1].Size {
			return nil, fmt.Errorf("memgo: slab class sizes must be strictly increasing: %d after %d", cl.Size, classes[i-1].Size)
		}
		pool, err := NewPool(cl.Size, cl.Count,
			WithProvider(cfg.provider), WithLogger(cfg.logger), WithMetrics(NoopMetricsCollector{}))
		if err != nil {
			s.closePools(i)
			return nil, err
		}
		s.classSizes[i] = cl.Size
		s.pools[i] = pool
	}

	return s, nil
}

// classIndex returns the index of the smallest class >= size, or
// len(classSizes) when the request is beyond the largest class. It is the
// single class-selection function shared by Alloc and Free.
func (s *Slab) classIndex(size int) int {
	return sort.SearchInts(s.classSizes, size)
}

// Alloc returns a slice of exactly size bytes from the best-fit class, or
// directly from the Provider for requests beyond the largest class.
func (s *Slab) Alloc(size int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	idx := s.classIndex(size)
	if idx == len(s.classSizes) {
		return s.allocUnmanaged(size)
	}

	buf, err := s.pools[idx].Alloc()
	if err != nil {
		s.metrics.RecordAlloc(size, err)
		return nil, err
	}
	s.metrics.RecordAlloc(size, nil)
	return buf[:size:s.classSizes[idx]], nil
}

func (s *Slab) allocUnmanaged(size int) ([]byte, error) {
	block, err := s.provider.Acquire(context.Background(), size)
	if err != nil {
		s.metrics.RecordAlloc(size, err)
		return nil, err
	}

	data := block.Bytes()
	s.unmanaged[&data[0]] = block
	s.metrics.RecordAlloc(size, nil)
	s.logger.Debug("oversized request bypassed pools", "size", size)

	return data[:size:size], nil
}

// Free returns buf to the pool of the class recomputed from len(buf), or to
// the Provider for unmanaged oversized blocks. buf must be exactly the
// slice Alloc returned.
func (s *Slab) Free(buf []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(buf) == 0 {
		return &ForeignBlockError{Allocator: "slab"}
	}

	idx := s.classIndex(len(buf))
	if idx == len(s.classSizes) {
		key := &buf[0]
		block, ok := s.unmanaged[key]
		if !ok {
			return &ForeignBlockError{Allocator: "slab"}
		}
		delete(s.unmanaged, key)
		s.metrics.RecordFree(len(buf))
		return s.provider.Release(block)
	}

	if err := s.pools[idx].Free(buf); err != nil {
		return err
	}
	s.metrics.RecordFree(s.classSizes[idx])
	return nil
}

// Classes returns the configured class sizes in ascending order.
func (s *Slab) Classes() []int {
	out := make([]int, len(s.classSizes))
	copy(out, s.classSizes)
	return out
}

// Close destroys every pool and releases unmanaged blocks. All outstanding
// allocations become invalid.
func (s *Slab) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, p := range s.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for key, block := range s.unmanaged {
		if err := s.provider.Release(block); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.unmanaged, key)
	}
	return firstErr
}

func (s *Slab) closePools(n int) {
	for i := 0; i < n; i++ {
		_ = s.pools[i].Close()
	}
}
