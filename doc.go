// Package memgo provides special-purpose memory allocators for workloads
// with predictable allocation patterns.
//
// General-purpose allocation is a poor fit for frame loops, per-request
// pipelines, and parser scratch space: it pays per-object bookkeeping for
// lifetimes the caller already knows. Memgo trades generality for speed by
// offering five allocator shapes, each matched to one allocation pattern:
//
//   - Stack: LIFO bump allocation over a single caller-owned buffer with
//     mark/release for nested scopes.
//   - Pool: fixed-block-size free list, O(1) alloc/free, zero external
//     fragmentation within its class.
//   - Arena: monotonic bump allocation across a growable chain of blocks,
//     reclaimed in bulk via Reset or Close.
//   - Slab: multiple pools indexed by size class, routing variable-size
//     requests to the best-fit class.
//   - Buddy: variable-size allocation over one power-of-two region with
//     recursive splitting and eager coalescing.
//
// # Quick Start
//
//	// Per-request scratch space: arena with 64 KiB blocks.
//	a, _ := memgo.NewArena(64 << 10)
//	defer a.Close()
//
//	buf, _ := a.Alloc(240)
//	// ... use buf ...
//	a.Reset() // reclaim everything, keep the first block warm
//
//	// Fixed-size records: pool of 4096 blocks of 128 bytes.
//	p, _ := memgo.NewPool(128, 4096)
//	defer p.Close()
//
//	rec, _ := p.Alloc()
//	p.Free(rec)
//
// # Raw Memory Providers
//
// Every growable allocator obtains its backing blocks from a Provider. The
// default HeapProvider hands out GC-managed slices; MmapProvider maps
// anonymous off-heap memory; NewBudgetProvider wraps any provider with a
// hard memory budget and an optional growth rate limit.
//
//	prov := memgo.NewBudgetProvider(memgo.MmapProvider{}, memgo.Budget{Bytes: 1 << 30})
//	a, _ := memgo.NewArena(1<<20, memgo.WithProvider(prov))
//
// # Concurrency Model
//
// Allocators are single-threaded by design: no operation blocks, suspends,
// or performs I/O. Thread safety is a layering decision, not a built-in
// property. Prefer one allocator instance per worker goroutine; a shared
// instance requires external locking around every Alloc/Free pair.
//
// # Failure Semantics
//
// Exhaustion is reported as ErrOutOfMemory and is always recoverable: the
// allocator remains valid and the caller decides whether to retry, degrade,
// or fall back to the regular heap. Precondition violations (non-power-of-two
// alignment, undersized pool blocks) are reported as typed errors at
// construction or call time. Double free and use-after-free are NOT detected
// by the core allocators; wrap a Pool in NewCheckedPool when that detection
// is worth one bit per block.
package memgo
