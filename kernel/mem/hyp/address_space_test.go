package hyp

import "testing"

func TestMairValueSlots(t *testing.T) {
	v := mairValue()

	if got := v & 0xFF; got != 0xFF {
		t.Errorf("expected MAIR slot 0 (normal-WB) to be 0xFF; got %#x", got)
	}
	if got := (v >> 8) & 0xFF; got != 0x04 {
		t.Errorf("expected MAIR slot 1 (device-nGnRE) to be 0x04; got %#x", got)
	}
	if got := (v >> 16) & 0xFF; got != 0x44 {
		t.Errorf("expected MAIR slot 2 (non-cacheable) to be 0x44; got %#x", got)
	}
}

func TestTableBeforeInitializePanics(t *testing.T) {
	defer func() { initialized = false; table = nil }()

	initialized = false
	defer func() {
		if recover() == nil {
			t.Fatal("expected Table() to panic before Initialize")
		}
	}()
	Table()
}
