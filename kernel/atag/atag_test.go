package atag

import (
	"encoding/binary"
	"testing"
)

func TestWriteBlockEncodesCoreMemNoneInOrder(t *testing.T) {
	buf := make([]byte, Size)
	n := WriteBlock(buf)
	if n != Size {
		t.Fatalf("expected WriteBlock to report %d bytes written; got %d", Size, n)
	}

	order := binary.LittleEndian
	words := make([]uint32, Size/4)
	for i := range words {
		words[i] = order.Uint32(buf[i*4:])
	}

	want := []uint32{
		coreDwords, tagCore, coreFlags, corePageSz, coreRootDev,
		memDwords, tagMem, 0x1000_0000, 0,
		noneDwords, tagNone,
	}
	if len(words) != len(want) {
		t.Fatalf("expected %d words; got %d", len(want), len(words))
	}
	for i, w := range want {
		if words[i] != w {
			t.Errorf("word %d: got %#x, want %#x", i, words[i], w)
		}
	}
}

func TestWriteBlockSizeMatchesRecordLayout(t *testing.T) {
	if Size != 20+16+8 {
		t.Fatalf("expected Size to be CORE(20)+MEM(16)+NONE(8); got %d", Size)
	}
}
