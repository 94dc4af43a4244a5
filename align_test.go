package memgo

import (
	"testing"
	"unsafe"
)

func TestAlignHelpers(t *testing.T) {
	t.Run("alignUp", func(t *testing.T) {
		cases := [][3]int{
			{0, 8, 0}, {1, 8, 8}, {8, 8, 8}, {9, 8, 16},
			{100, 64, 128}, {128, 64, 128},
		}
		for _, c := range cases {
			if got := alignUp(c[0], c[1]); got != c[2] {
				t.Errorf("alignUp(%d, %d) = %d, want %d", c[0], c[1], got, c[2])
			}
		}
	})

	t.Run("nextPowerOfTwo", func(t *testing.T) {
		cases := [][2]int{{1, 1}, {2, 2}, {3, 4}, {1000, 1024}, {1024, 1024}}
		for _, c := range cases {
			if got := nextPowerOfTwo(c[0]); got != c[1] {
				t.Errorf("nextPowerOfTwo(%d) = %d, want %d", c[0], got, c[1])
			}
		}
	})
}

func TestAllocAligned(t *testing.T) {
	for _, align := range []int{8, 64, 4096} {
		buf, err := AllocAligned(100, align)
		if err != nil {
			t.Fatalf("align %d: %v", align, err)
		}
		if len(buf) != 100 {
			t.Fatalf("align %d: len %d", align, len(buf))
		}
		if addr := uintptr(unsafe.Pointer(&buf[0])); addr%uintptr(align) != 0 {
			t.Errorf("align %d: addr %x not aligned", align, addr)
		}
	}

	if _, err := AllocAligned(0, 8); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := AllocAligned(8, 3); err == nil {
		t.Error("expected error for non-power-of-two alignment")
	}
}
