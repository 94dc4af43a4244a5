package memgo

import "sync/atomic"

// MetricsCollector defines an interface for collecting allocator metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
//
// Collectors may be shared across allocators; implementations must be safe
// for concurrent use even though each individual allocator is not.
type MetricsCollector interface {
	// RecordAlloc is called after each allocation attempt.
	// size is the requested size, err is nil if the allocation succeeded.
	RecordAlloc(size int, err error)

	// RecordFree is called after each successful free.
	// size is the size of the block returned to the allocator.
	RecordFree(size int)

	// RecordGrow is called when an allocator acquires a new backing block
	// from its Provider.
	RecordGrow(blockSize int)

	// RecordReset is called on bulk reclamation (arena reset, stack reset).
	// blocksReleased is the number of backing blocks returned to the
	// Provider.
	RecordReset(blocksReleased int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(int, error) {}
func (NoopMetricsCollector) RecordFree(int)         {}
func (NoopMetricsCollector) RecordGrow(int)         {}
func (NoopMetricsCollector) RecordReset(int)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount     atomic.Int64
	AllocErrors    atomic.Int64
	BytesRequested atomic.Int64
	FreeCount      atomic.Int64
	BytesFreed     atomic.Int64
	GrowCount      atomic.Int64
	BytesAcquired  atomic.Int64
	ResetCount     atomic.Int64
	BlocksReleased atomic.Int64
}

func (b *BasicMetricsCollector) RecordAlloc(size int, err error) {
	b.AllocCount.Add(1)
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.BytesRequested.Add(int64(size))
}

func (b *BasicMetricsCollector) RecordFree(size int) {
	b.FreeCount.Add(1)
	b.BytesFreed.Add(int64(size))
}

func (b *BasicMetricsCollector) RecordGrow(blockSize int) {
	b.GrowCount.Add(1)
	b.BytesAcquired.Add(int64(blockSize))
}

func (b *BasicMetricsCollector) RecordReset(blocksReleased int) {
	b.ResetCount.Add(1)
	b.BlocksReleased.Add(int64(blocksReleased))
}
