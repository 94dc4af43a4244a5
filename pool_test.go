package memgo

import (
	"errors"
	"testing"
	"unsafe"
)

func TestPool_New(t *testing.T) {
	t.Run("block size below link size", func(t *testing.T) {
		_, err := NewPool(4, 10)
		var sizeErr *InvalidBlockSizeError
		if !errors.As(err, &sizeErr) {
			t.Errorf("expected InvalidBlockSizeError, got %v", err)
		}
	})

	t.Run("non-positive block count", func(t *testing.T) {
		if _, err := NewPool(32, 0); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("expected ErrInvalidSize, got %v", err)
		}
	})
}

// Exhaust a 4-block pool, free one block, and verify the next allocation
// returns exactly that block.
func TestPool_ExhaustionAndReuse(t *testing.T) {
	p, err := NewPool(32, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	blocks := make([][]byte, 4)
	for i := range blocks {
		blocks[i], err = p.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if len(blocks[i]) != 32 {
			t.Fatalf("alloc %d: len %d", i, len(blocks[i]))
		}
	}

	if _, err := p.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("5th alloc: expected ErrOutOfMemory, got %v", err)
	}

	if err := p.Free(blocks[1]); err != nil {
		t.Fatal(err)
	}

	again, err := p.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if &again[0] != &blocks[1][0] {
		t.Error("reallocation did not return the freed block")
	}
}

func TestPool_AddressOrderAndAliasing(t *testing.T) {
	p, err := NewPool(64, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var prev uintptr
	seen := make(map[uintptr]bool)
	for i := 0; i < 8; i++ {
		b, err := p.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		addr := uintptr(unsafe.Pointer(&b[0]))
		if seen[addr] {
			t.Fatalf("alloc %d aliases an earlier live block", i)
		}
		seen[addr] = true

		// Fresh pools hand out ascending addresses 64 bytes apart.
		if i > 0 && addr != prev+64 {
			t.Errorf("alloc %d not in address order: %x after %x", i, addr, prev)
		}
		prev = addr
	}
}

func TestPool_FreeSubsetRealloc(t *testing.T) {
	p, err := NewPool(16, 6)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	blocks := make([][]byte, 6)
	for i := range blocks {
		blocks[i], _ = p.Alloc()
	}

	for _, i := range []int{4, 0, 2} {
		if err := p.Free(blocks[i]); err != nil {
			t.Fatal(err)
		}
	}
	if p.FreeBlocks() != 3 {
		t.Fatalf("free blocks = %d, want 3", p.FreeBlocks())
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Alloc(); err != nil {
			t.Fatalf("realloc %d: %v", i, err)
		}
	}
	if _, err := p.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestPool_ForeignFree(t *testing.T) {
	p, err := NewPool(32, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var foreignErr *ForeignBlockError

	t.Run("outside backing memory", func(t *testing.T) {
		if err := p.Free(make([]byte, 32)); !errors.As(err, &foreignErr) {
			t.Errorf("expected ForeignBlockError, got %v", err)
		}
	})

	t.Run("not block-aligned", func(t *testing.T) {
		b, _ := p.Alloc()
		if err := p.Free(b[8:]); !errors.As(err, &foreignErr) {
			t.Errorf("expected ForeignBlockError, got %v", err)
		}
	})

	t.Run("empty slice", func(t *testing.T) {
		if err := p.Free(nil); !errors.As(err, &foreignErr) {
			t.Errorf("expected ForeignBlockError, got %v", err)
		}
	})
}

func TestPool_Close(t *testing.T) {
	p, err := NewPool(32, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal("close must be idempotent:", err)
	}
	if _, err := p.Alloc(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
