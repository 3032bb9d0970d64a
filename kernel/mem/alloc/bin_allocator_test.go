package alloc

import (
	"testing"
	"unsafe"

	"rpi3visor/kernel/mem"
)

func TestSizeToBin(t *testing.T) {
	specs := []struct {
		n   uint64
		bin int
	}{
		{1, 0},
		{8, 0},
		{9, 1},
		{16, 1},
		{17, 2},
		{1 << 32, 29},
	}

	for _, spec := range specs {
		if got := sizeToBin(spec.n); got != spec.bin {
			t.Errorf("sizeToBin(%d): expected bin %d; got %d", spec.n, spec.bin, got)
		}
	}
}

func TestSizeToBinPanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected sizeToBin(0) to panic")
		}
	}()
	sizeToBin(0)
}

func TestBinToSizeRoundTrip(t *testing.T) {
	for bin := 0; bin < NumBins; bin++ {
		size := binToSize(bin)
		if got := sizeToBin(size); got != bin {
			t.Errorf("bin %d: binToSize=%d but sizeToBin round-trips to bin %d", bin, size, got)
		}
	}
}

func newTestAllocator(t *testing.T, regionSize int) (*Allocator, []byte) {
	t.Helper()

	backing := make([]byte, regionSize)
	var a Allocator
	if err := a.Initialize(uintptr(unsafe.Pointer(&backing[0])), mem.Size(regionSize)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return &a, backing
}

func TestAllocReturnsNonOverlappingPointers(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	p1 := a.Alloc(100, 8)
	p2 := a.Alloc(200, 8)

	if p1 == nil || p2 == nil {
		t.Fatal("expected both allocations to succeed")
	}

	a1, a2 := uintptr(p1), uintptr(p2)
	s1, s2 := binToSize(sizeToBin(100)), binToSize(sizeToBin(200))

	overlap := a1 < a2+uintptr(s2) && a2 < a1+uintptr(s1)
	if overlap {
		t.Fatalf("expected allocations not to overlap: [%x,+%d) vs [%x,+%d)", a1, s1, a2, s2)
	}
}

func TestAllocRespectsAlignment(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	p := a.Alloc(37, 64)
	if p == nil {
		t.Fatal("expected allocation to succeed")
	}
	if uintptr(p)%64 != 0 {
		t.Fatalf("expected pointer aligned to 64; got %x", p)
	}
}

func TestAllocDeallocRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	p := a.Alloc(128, 8)
	if p == nil {
		t.Fatal("expected allocation to succeed")
	}

	a.Dealloc(p, 128)

	p2 := a.Alloc(128, 8)
	if p2 != p {
		t.Fatalf("expected the freed chunk to be reused; got %x want %x", p2, p)
	}
}

func TestAllocExhaustsRegion(t *testing.T) {
	a, _ := newTestAllocator(t, 128)

	exhausted := false
	for i := 0; i < 100; i++ {
		if a.Alloc(64, 8) == nil {
			exhausted = true
			break
		}
	}

	if !exhausted {
		t.Fatal("expected allocator to eventually return nil once the region is exhausted")
	}
}

func TestDeallocNoopOnNilOrZero(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)

	a.Dealloc(nil, 8)
	a.Dealloc(unsafe.Pointer(uintptr(8)), 0)
}

func TestDeallocPanicsOnMisalignedPointer(t *testing.T) {
	a, _ := newTestAllocator(t, 1024)

	defer func() {
		if recover() == nil {
			t.Fatal("expected Dealloc on a misaligned pointer to panic")
		}
	}()

	a.Dealloc(unsafe.Pointer(uintptr(1)), 8)
}

func TestAllocBeforeInitializePanics(t *testing.T) {
	var a Allocator

	defer func() {
		if recover() == nil {
			t.Fatal("expected Alloc before Initialize to panic")
		}
	}()

	a.Alloc(8, 8)
}

func TestInitializeTwiceReturnsErrAlreadyInit(t *testing.T) {
	backing := make([]byte, 4096)
	var a Allocator
	if err := a.Initialize(uintptr(unsafe.Pointer(&backing[0])), mem.Size(len(backing))); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := a.Initialize(uintptr(unsafe.Pointer(&backing[0])), mem.Size(len(backing))); err != errAlreadyInit {
		t.Fatalf("expected the second Initialize to return errAlreadyInit; got %v", err)
	}
}
