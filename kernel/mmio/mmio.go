// Package mmio replays a trapped guest load or store against the real
// peripheral register the stage-2 fault handler decided it targeted
// (spec.md §4.8). It has no x86-style trap-and-emulate precedent anywhere
// in the retrieval pack; its field-for-field ISS decoding is grounded
// structurally on kernel/mem/pt's bitfield-accessor style and on
// other_examples' VMSA-snapshot discipline of keeping one struct in lockstep
// with one hardware register layout — here, trap.Frame's x[] array standing
// in for that snapshot.
package mmio

import (
	"rpi3visor/kernel"
	"rpi3visor/kernel/board"
	"rpi3visor/kernel/trap"
)

// Size is the access width a data-abort ISS's SAS field selects.
type Size uint8

const (
	Byte Size = iota
	Halfword
	Word
	Doubleword
)

var errUnmodeledAccess = &kernel.Error{Module: "mmio", Message: "access size out of range; not modeled"}

// Emulate replays one load or store at addr (a real BCM2837 MMIO address,
// already resolved by the stage-2 fault handler from the guest IPA) against
// the width sas selects, reading from or writing to trap.Frame.X[srt] as
// the ISS describes, then advances tf.ELR past the trapped instruction.
//
// sf selects the destination register's width for a load, and whether a
// store's source value is truncated; sse requests sign-extension on a
// load. Page-spanning or misaligned accesses are not modeled by the
// hardware ISS (ISV is 0 for those) and must be rejected by the caller
// before Emulate is reached — Emulate itself assumes ISV was already 1.
func Emulate(addr uintptr, sas Size, sse bool, srt uint8, sf bool, wnr bool, tf *trap.Frame) *kernel.Error {
	if sas > Doubleword {
		return errUnmodeledAccess
	}

	if wnr {
		store(addr, sas, sf, srt, tf)
	} else {
		load(addr, sas, sse, sf, srt, tf)
	}

	tf.ELR += 4
	return nil
}

func store(addr uintptr, sas Size, sf bool, srt uint8, tf *trap.Frame) {
	v := regValue(srt, tf)
	if !sf {
		v &= 0xFFFF_FFFF
	}

	switch sas {
	case Byte:
		board.Write8(addr, uint8(v))
	case Halfword:
		board.Write16(addr, uint16(v))
	case Word:
		board.Write32(addr, uint32(v))
	case Doubleword:
		board.Write64(addr, v)
	}
}

func load(addr uintptr, sas Size, sse, sf bool, srt uint8, tf *trap.Frame) {
	var v uint64
	switch sas {
	case Byte:
		raw := board.Read8(addr)
		if sse {
			v = uint64(int64(int8(raw)))
		} else {
			v = uint64(raw)
		}
	case Halfword:
		raw := board.Read16(addr)
		if sse {
			v = uint64(int64(int16(raw)))
		} else {
			v = uint64(raw)
		}
	case Word:
		raw := board.Read32(addr)
		if sse {
			v = uint64(int64(int32(raw)))
		} else {
			v = uint64(raw)
		}
	case Doubleword:
		v = board.Read64(addr)
	}

	setRegValue(srt, tf, v, sf)
}

func regValue(srt uint8, tf *trap.Frame) uint64 {
	if srt == 31 {
		return 0 // xzr
	}
	return tf.X[srt]
}

func setRegValue(srt uint8, tf *trap.Frame, v uint64, sf bool) {
	if srt == 31 {
		return // writes to xzr are discarded
	}
	if sf {
		tf.X[srt] = v
	} else {
		tf.X[srt] = (tf.X[srt] &^ 0xFFFF_FFFF) | (v & 0xFFFF_FFFF)
	}
}
