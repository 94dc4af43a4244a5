package memgo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapProvider(t *testing.T) {
	var p HeapProvider

	b, err := p.Acquire(context.Background(), 128)
	require.NoError(t, err)
	assert.Equal(t, 128, b.Size())
	assert.Len(t, b.Bytes(), 128)

	require.NoError(t, p.Release(b))
	require.NoError(t, p.Release(nil))

	_, err = p.Acquire(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestMmapProvider(t *testing.T) {
	var p MmapProvider

	b, err := p.Acquire(context.Background(), 4096)
	require.NoError(t, err)
	require.Equal(t, 4096, b.Size())

	// The mapping is writable and zeroed.
	data := b.Bytes()
	assert.Zero(t, data[0])
	assert.Zero(t, data[4095])
	data[0] = 0xAB
	data[4095] = 0xCD

	require.NoError(t, p.Release(b))
	require.NoError(t, p.Release(b), "release must be idempotent")

	_, err = p.Acquire(context.Background(), -1)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestBudgetProvider(t *testing.T) {
	t.Run("enforces the budget", func(t *testing.T) {
		p := NewBudgetProvider(nil, Budget{Bytes: 1024})

		b1, err := p.Acquire(context.Background(), 600)
		require.NoError(t, err)
		assert.Equal(t, int64(600), p.Used())

		_, err = p.Acquire(context.Background(), 600)
		require.ErrorIs(t, err, ErrBudgetExceeded)

		// Releasing restores headroom.
		require.NoError(t, p.Release(b1))
		assert.Zero(t, p.Used())

		_, err = p.Acquire(context.Background(), 1024)
		require.NoError(t, err)
	})

	t.Run("request larger than the whole budget", func(t *testing.T) {
		p := NewBudgetProvider(nil, Budget{Bytes: 256})
		_, err := p.Acquire(context.Background(), 512)
		require.ErrorIs(t, err, ErrBudgetExceeded)
	})

	t.Run("rolls back on inner failure", func(t *testing.T) {
		p := NewBudgetProvider(failingProvider{}, Budget{Bytes: 1024})

		_, err := p.Acquire(context.Background(), 512)
		require.ErrorIs(t, err, ErrOutOfMemory)
		assert.Zero(t, p.Used(), "failed acquisition must not consume budget")
	})

	t.Run("growth throttle honors the context", func(t *testing.T) {
		p := NewBudgetProvider(nil, Budget{Bytes: 1 << 20, GrowthBytesPerSec: 64})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		// The limiter's initial burst covers the first acquisition; the
		// second cannot be paid for within the deadline.
		_, err := p.Acquire(ctx, 64)
		require.NoError(t, err)
		_, err = p.Acquire(ctx, 64)
		require.Error(t, err)
	})

	t.Run("track-only budget", func(t *testing.T) {
		p := NewBudgetProvider(nil, Budget{})

		b, err := p.Acquire(context.Background(), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, int64(1<<20), p.Used())
		require.NoError(t, p.Release(b))
	})
}

// failingProvider always reports exhaustion.
type failingProvider struct{}

func (failingProvider) Acquire(context.Context, int) (*Block, error) {
	return nil, ErrOutOfMemory
}

func (failingProvider) Release(*Block) error { return nil }

func TestAllocatorsOverMmap(t *testing.T) {
	t.Run("pool", func(t *testing.T) {
		p, err := NewPool(64, 8, WithProvider(MmapProvider{}))
		require.NoError(t, err)
		defer p.Close()

		b, err := p.Alloc()
		require.NoError(t, err)
		copy(b, "off-heap")
		require.NoError(t, p.Free(b))
	})

	t.Run("arena", func(t *testing.T) {
		a, err := NewArena(4096, WithProvider(MmapProvider{}))
		require.NoError(t, err)
		defer a.Close()

		b, err := a.Alloc(100)
		require.NoError(t, err)
		copy(b, "off-heap")
		a.Reset()
	})

	t.Run("buddy", func(t *testing.T) {
		b, err := NewBuddy(4096, WithProvider(MmapProvider{}))
		require.NoError(t, err)
		defer b.Close()

		buf, err := b.Alloc(100)
		require.NoError(t, err)
		require.NoError(t, b.Free(buf))
	})
}
