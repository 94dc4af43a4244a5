package memgo

import (
	"context"

	"github.com/hupe1980/memgo/internal/mmap"
	"github.com/hupe1980/memgo/internal/resource"
)

// ErrBudgetExceeded is returned by a budget-limited Provider when an
// acquisition would exceed the configured memory budget.
var ErrBudgetExceeded = resource.ErrBudgetExceeded

// Block is a raw contiguous span of bytes. It is owned exclusively by the
// allocator that acquired it from a Provider, from acquisition until that
// allocator releases it or is closed.
type Block struct {
	data    []byte
	mapping *mmap.Mapping // non-nil for off-heap blocks
}

// Bytes returns the block's memory.
func (b *Block) Bytes() []byte { return b.data }

// Size returns the block's capacity in bytes.
func (b *Block) Size() int { return len(b.data) }

// Provider supplies raw backing blocks to allocators. It is the only point
// where this package crosses into general-purpose or OS memory management.
//
// Acquire is synchronous and fallible: it returns an error on exhaustion
// instead of panicking, so allocators can surface ErrOutOfMemory and keep
// running. Release returns a block; releasing a block still referenced by
// live allocations is a caller error.
type Provider interface {
	Acquire(ctx context.Context, size int) (*Block, error)
	Release(b *Block) error
}

// HeapProvider hands out GC-managed blocks backed by make([]byte). Release
// drops the reference and lets the garbage collector reclaim the memory.
//
// This is the default Provider.
type HeapProvider struct{}

func (HeapProvider) Acquire(_ context.Context, size int) (*Block, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Block{data: make([]byte, size)}, nil
}

func (HeapProvider) Release(b *Block) error {
	if b != nil {
		b.data = nil
	}
	return nil
}

// MmapProvider hands out off-heap blocks backed by anonymous memory
// mappings. The garbage collector neither scans nor accounts for them,
// which keeps large allocator regions out of GC pause budgets.
type MmapProvider struct{}

func (MmapProvider) Acquire(_ context.Context, size int) (*Block, error) {
	m, err := mmap.MapAnon(size)
	if err != nil {
		if err == mmap.ErrInvalidSize {
			return nil, ErrInvalidSize
		}
		return nil, err
	}
	return &Block{data: m.Bytes(), mapping: m}, nil
}

func (MmapProvider) Release(b *Block) error {
	if b == nil || b.mapping == nil {
		return nil
	}
	err := b.mapping.Close()
	b.data = nil
	b.mapping = nil
	return err
}

// Budget configures a budget-limited Provider.
type Budget struct {
	// Bytes is the hard limit for outstanding blocks. 0 means track only.
	Bytes int64
	// GrowthBytesPerSec throttles acquisition bursts. 0 means unthrottled.
	GrowthBytesPerSec int64
}

// BudgetProvider wraps another Provider with a hard memory budget and an
// optional growth rate limit. Acquisitions beyond the budget fail with
// ErrBudgetExceeded without blocking; the rate limit waits, bounded by the
// caller's context.
type BudgetProvider struct {
	inner Provider
	ctrl  *resource.Controller
}

// NewBudgetProvider wraps inner with the given budget. If inner is nil,
// HeapProvider is used.
func NewBudgetProvider(inner Provider, budget Budget) *BudgetProvider {
	if inner == nil {
		inner = HeapProvider{}
	}
	return &BudgetProvider{
		inner: inner,
		ctrl: resource.NewController(resource.Config{
			BudgetBytes:       budget.Bytes,
			GrowthBytesPerSec: budget.GrowthBytesPerSec,
		}),
	}
}

func (p *BudgetProvider) Acquire(ctx context.Context, size int) (*Block, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if err := p.ctrl.Acquire(ctx, int64(size)); err != nil {
		return nil, err
	}
	b, err := p.inner.Acquire(ctx, size)
	if err != nil {
		p.ctrl.Release(int64(size))
		return nil, err
	}
	return b, nil
}

func (p *BudgetProvider) Release(b *Block) error {
	if b == nil {
		return nil
	}
	size := int64(b.Size())
	err := p.inner.Release(b)
	p.ctrl.Release(size)
	return err
}

// Used returns the bytes currently checked out through this provider.
func (p *BudgetProvider) Used() int64 { return p.ctrl.Used() }
