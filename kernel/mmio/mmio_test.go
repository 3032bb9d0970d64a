package mmio

import (
	"testing"
	"unsafe"

	"rpi3visor/kernel/trap"
)

func backingWord(t *testing.T) uintptr {
	t.Helper()
	buf := make([]byte, 16)
	return (uintptr(unsafe.Pointer(&buf[0])) + 7) &^ 7
}

// TestEmulateStore32 mirrors spec.md §4.8's worked example: a 32-bit store
// of 0xDEADBEEF from x5, SF=0 (so any garbage above bit 31 in x5 must be
// masked away), SSE/CM/WnR as documented.
func TestEmulateStore32(t *testing.T) {
	addr := backingWord(t)

	tf := &trap.Frame{}
	tf.X[5] = 0xFFFF_FFFF_DEAD_BEEF

	if err := Emulate(addr, Word, false, 5, false, true, tf); err != nil {
		t.Fatalf("Emulate: %v", err)
	}

	if got := *(*uint32)(unsafe.Pointer(addr)); got != 0xDEADBEEF {
		t.Errorf("expected memory to hold 0xDEADBEEF; got %#x", got)
	}
	if tf.X[5] != 0xFFFF_FFFF_DEAD_BEEF {
		t.Error("expected the source register to be left unchanged")
	}
	if tf.ELR != 4 {
		t.Errorf("expected ELR to advance by 4; got %d", tf.ELR)
	}
}

// TestEmulateLoadSignExtend mirrors spec.md §4.8's second worked example: a
// sign-extended byte load into a 64-bit destination register.
func TestEmulateLoadSignExtend(t *testing.T) {
	addr := backingWord(t)
	*(*uint8)(unsafe.Pointer(addr)) = 0xFF

	tf := &trap.Frame{}
	if err := Emulate(addr, Byte, true, 3, true, false, tf); err != nil {
		t.Fatalf("Emulate: %v", err)
	}

	if tf.X[3] != 0xFFFF_FFFF_FFFF_FFFF {
		t.Errorf("expected a sign-extended -1; got %#x", tf.X[3])
	}
}

// TestEmulateLoadMergesLow32 mirrors spec.md §4.8's third worked example: a
// 32-bit, non-sign-extended load must preserve the destination register's
// high 32 bits.
func TestEmulateLoadMergesLow32(t *testing.T) {
	addr := backingWord(t)
	*(*uint32)(unsafe.Pointer(addr)) = 0x8000_0001

	tf := &trap.Frame{}
	tf.X[7] = 0xAAAA_AAAA_CCCC_CCCC

	if err := Emulate(addr, Word, false, 7, false, false, tf); err != nil {
		t.Fatalf("Emulate: %v", err)
	}

	if tf.X[7] != 0xAAAA_AAAA_8000_0001 {
		t.Errorf("expected the high 32 bits preserved; got %#x", tf.X[7])
	}
}

func TestEmulateStoreMasksTo32BitsWhenSFZero(t *testing.T) {
	addr := backingWord(t)

	tf := &trap.Frame{}
	tf.X[1] = 0x1122_3344_5566_7788

	if err := Emulate(addr, Doubleword, false, 1, false, true, tf); err != nil {
		t.Fatalf("Emulate: %v", err)
	}

	if got := *(*uint64)(unsafe.Pointer(addr)); got != 0x5566_7788 {
		t.Errorf("expected the store masked to 32 bits; got %#x", got)
	}
}

func TestEmulateIgnoresXZRDestination(t *testing.T) {
	addr := backingWord(t)
	*(*uint64)(unsafe.Pointer(addr)) = 42

	tf := &trap.Frame{}
	if err := Emulate(addr, Doubleword, false, 31, true, false, tf); err != nil {
		t.Fatalf("Emulate: %v", err)
	}
	// Nothing to assert on tf.X: there is no 32nd slot to have corrupted.
	// The absence of a panic/out-of-range write is the assertion.
}

func TestEmulateRejectsUnmodeledSize(t *testing.T) {
	addr := backingWord(t)
	tf := &trap.Frame{}
	if err := Emulate(addr, Size(4), false, 0, true, false, tf); err == nil {
		t.Fatal("expected an out-of-range SAS to be rejected")
	}
}
