// Package mmap provides anonymous memory mappings for off-heap allocator
// blocks.
//
// Anonymous mappings keep large allocator regions outside the Go garbage
// collector's view: the GC neither scans nor accounts for them, which
// matters when an arena or buddy region holds gigabytes of payload bytes.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // read-write, zero-initialized by the kernel
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE
//   - Windows: VirtualAlloc with MEM_RESERVE|MEM_COMMIT (demand-paged,
//     like Unix mmap)
//
// Close is idempotent and protected by an atomic flag, but callers must
// ensure no goroutine touches Bytes() after Close returns.
package mmap
