package pt

import (
	"testing"
	"unsafe"

	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/alloc"
)

func uintptrOf(backing []byte) uintptr {
	return uintptr(unsafe.Pointer(&backing[0]))
}

func newTestTable(t *testing.T, encoding Encoding) *Table {
	t.Helper()

	var testAlloc alloc.Allocator
	backing := make([]byte, 256*int(mem.PageSize))
	if err := testAlloc.Initialize(alignedBase(backing), mem.Size(len(backing))-mem.PageSize); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	prev := alloc.Pool
	alloc.Pool = testAlloc
	t.Cleanup(func() { alloc.Pool = prev })

	tbl, err := New(encoding)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl
}

// alignedBase rounds the backing slice's address up to a page boundary so
// every allocation handed out by the test allocator is itself page
// aligned, matching what a real physical memory region would provide.
func alignedBase(backing []byte) uintptr {
	base := uintptrOf(backing)
	return (base + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
}

func TestNewInitializesL2Slots(t *testing.T) {
	tbl := newTestTable(t, Stage1)

	if !tbl.l2[0].Valid() || !tbl.l2[1].Valid() {
		t.Fatal("expected L2[0] and L2[1] to be valid after New")
	}
	if tbl.l2[0].Frame() != tbl.l3Phys[0] {
		t.Fatalf("expected L2[0] to point at the first L3 table")
	}
	if tbl.l2[1].Frame() != tbl.l3Phys[1] {
		t.Fatalf("expected L2[1] to point at the second L3 table")
	}
	for i := 2; i < mem.EntriesPerTable; i++ {
		if tbl.l2[i].Valid() {
			t.Fatalf("expected L2[%d] to stay invalid", i)
		}
	}
}

func TestMapStage1RoundTrip(t *testing.T) {
	tbl := newTestTable(t, Stage1)

	const va = uintptr(0x1_0000)
	const pa = uintptr(0x2_0000)

	tbl.MapStage1(va, pa, AttrNormalWB, KernRW, ShareInner)

	e, ok := tbl.Lookup(va)
	if !ok {
		t.Fatal("expected the mapping to be valid")
	}
	if e.Frame() != pa {
		t.Fatalf("expected frame %x; got %x", pa, e.Frame())
	}
}

func TestMapStage2PanicsOnDoubleMap(t *testing.T) {
	tbl := newTestTable(t, Stage2)

	const ipa = uintptr(0x8_0000)
	tbl.MapStage2(ipa, 0x1000_0000, S2ReadWrite, S2CacheWriteBack, S2InnerWriteBack, ShareInner)

	defer func() {
		if recover() == nil {
			t.Fatal("expected mapping an already-valid slot to panic")
		}
	}()
	tbl.MapStage2(ipa, 0x2000_0000, S2ReadWrite, S2CacheWriteBack, S2InnerWriteBack, ShareInner)
}

func TestLocatePanicsOutsideOneGiBWindow(t *testing.T) {
	tbl := newTestTable(t, Stage1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected an address with L2 index >= 2 to panic")
		}
	}()
	tbl.locate(uintptr(2) << mem.L2Shift)
}

func TestLocatePanicsOnMisalignedAddress(t *testing.T) {
	tbl := newTestTable(t, Stage1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a non-page-aligned address to panic")
		}
	}()
	tbl.locate(0x1001)
}

func TestMapStage1PanicsOnWrongEncoding(t *testing.T) {
	tbl := newTestTable(t, Stage2)

	defer func() {
		if recover() == nil {
			t.Fatal("expected MapStage1 on a Stage2 table to panic")
		}
	}()
	tbl.MapStage1(0x1_0000, 0x2_0000, AttrNormalWB, KernRW, ShareInner)
}
