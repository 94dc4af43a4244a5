package memgo

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuddy_New(t *testing.T) {
	t.Run("rounds region up to a power of two", func(t *testing.T) {
		b, err := NewBuddy(1000)
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, 1024, b.FreeBytes())
	})

	t.Run("invalid total size", func(t *testing.T) {
		_, err := NewBuddy(0)
		require.ErrorIs(t, err, ErrInvalidSize)
	})

	t.Run("invalid min block size", func(t *testing.T) {
		var sizeErr *InvalidBlockSizeError
		_, err := NewBuddy(1024, WithMinBlockSize(48))
		require.ErrorAs(t, err, &sizeErr)
	})

	t.Run("caller-owned region must be a power of two", func(t *testing.T) {
		var sizeErr *InvalidBlockSizeError
		_, err := NewBuddyOver(make([]byte, 1000))
		require.ErrorAs(t, err, &sizeErr)
	})
}

// Two 100-byte allocations against a 1024-byte region with 64-byte minimum
// blocks: each needs a 128-byte block (100 + header), so they land at region
// offsets 0 and 128. Freeing both must coalesce all the way back to a single
// 1024-byte block.
func TestBuddy_SplitAndCoalesce(t *testing.T) {
	b, err := NewBuddy(1024)
	require.NoError(t, err)
	defer b.Close()

	base := uintptr(unsafe.Pointer(&b.region[0]))

	p1, err := b.Alloc(100)
	require.NoError(t, err)
	require.Len(t, p1, 100)
	assert.Equal(t, uintptr(buddyHeaderSize), uintptr(unsafe.Pointer(&p1[0]))-base)

	p2, err := b.Alloc(100)
	require.NoError(t, err)
	assert.Equal(t, uintptr(128+buddyHeaderSize), uintptr(unsafe.Pointer(&p2[0]))-base)

	// 1024 minus the two 128-byte blocks.
	assert.Equal(t, 768, b.FreeBytes())

	require.NoError(t, b.Free(p1))
	require.NoError(t, b.Free(p2))

	assert.Equal(t, 1024, b.FreeBytes())
	assert.Equal(t, uint64(1), b.free[b.maxOrder].GetCardinality(), "region did not coalesce to one block")
	assert.True(t, b.free[b.maxOrder].Contains(0))
}

func TestBuddy_FullReclamation(t *testing.T) {
	b, err := NewBuddy(4096)
	require.NoError(t, err)
	defer b.Close()

	sizes := []int{1, 56, 100, 120, 500, 1000}
	bufs := make([][]byte, len(sizes))
	for i, size := range sizes {
		bufs[i], err = b.Alloc(size)
		require.NoError(t, err, "alloc %d bytes", size)
	}

	// Free in an order unrelated to allocation order.
	for _, i := range []int{3, 0, 5, 1, 4, 2} {
		require.NoError(t, b.Free(bufs[i]))
	}

	assert.Equal(t, 4096, b.FreeBytes())
	assert.Equal(t, uint64(1), b.free[b.maxOrder].GetCardinality())
}

func TestBuddy_OutOfMemory(t *testing.T) {
	b, err := NewBuddy(256)
	require.NoError(t, err)
	defer b.Close()

	t.Run("request beyond the region", func(t *testing.T) {
		_, err := b.Alloc(b.MaxAlloc() + 1)
		require.ErrorIs(t, err, ErrOutOfMemory)
	})

	t.Run("fragmented free space", func(t *testing.T) {
		// Four order-0 allocations split the region fully.
		bufs := make([][]byte, 4)
		for i := range bufs {
			bufs[i], err = b.Alloc(32)
			require.NoError(t, err)
		}

		// Free two non-buddy blocks: 128 bytes free, but no 128-byte block.
		require.NoError(t, b.Free(bufs[0]))
		require.NoError(t, b.Free(bufs[2]))
		assert.Equal(t, 128, b.FreeBytes())

		_, err = b.Alloc(100)
		require.ErrorIs(t, err, ErrOutOfMemory)

		// Recoverable: freeing the remaining blocks restores the region.
		require.NoError(t, b.Free(bufs[1]))
		require.NoError(t, b.Free(bufs[3]))
		_, err = b.Alloc(100)
		require.NoError(t, err)
	})
}

func TestBuddy_DoubleFree(t *testing.T) {
	b, err := NewBuddy(512)
	require.NoError(t, err)
	defer b.Close()

	buf, err := b.Alloc(40)
	require.NoError(t, err)
	require.NoError(t, b.Free(buf))

	var dblErr *DoubleFreeError
	require.ErrorAs(t, b.Free(buf), &dblErr)
}

func TestBuddy_ForeignFree(t *testing.T) {
	b, err := NewBuddy(512)
	require.NoError(t, err)
	defer b.Close()

	var foreignErr *ForeignBlockError

	t.Run("outside region", func(t *testing.T) {
		require.ErrorAs(t, b.Free(make([]byte, 64)), &foreignErr)
	})

	t.Run("re-sliced from the front", func(t *testing.T) {
		buf, err := b.Alloc(40)
		require.NoError(t, err)
		require.ErrorAs(t, b.Free(buf[4:]), &foreignErr)
		require.NoError(t, b.Free(buf))
	})

	t.Run("nil", func(t *testing.T) {
		require.ErrorAs(t, b.Free(nil), &foreignErr)
	})
}

func TestBuddy_Over(t *testing.T) {
	region := make([]byte, 1024)
	b, err := NewBuddyOver(region)
	require.NoError(t, err)

	buf, err := b.Alloc(100)
	require.NoError(t, err)
	require.NoError(t, b.Free(buf))

	// Close leaves the caller-owned region alone.
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Alloc(8)
	require.ErrorIs(t, err, ErrClosed)
}

func TestBuddy_MaxAlloc(t *testing.T) {
	b, err := NewBuddy(2048)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 2048-buddyHeaderSize, b.MaxAlloc())

	buf, err := b.Alloc(b.MaxAlloc())
	require.NoError(t, err)
	assert.Equal(t, 0, b.FreeBytes())

	require.NoError(t, b.Free(buf))
	assert.Equal(t, 2048, b.FreeBytes())
}
