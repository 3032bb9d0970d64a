// Package atag encodes the fixed three-record ATAG block a guest's boot
// loader would otherwise synthesize: CORE, MEM, and the NONE terminator
// (spec.md §6). Bit-exact against the real ARM Linux boot protocol so an
// unmodified guest kernel's atag parser accepts it without knowing it is
// running under a hypervisor.
package atag

import (
	"encoding/binary"

	"rpi3visor/kernel/mem"
)

// Real ARM Linux ATAG tag values (Documentation/arm/Booting).
const (
	tagCore = 0x54410001
	tagMem  = 0x54410002
	tagNone = 0x00000000

	coreDwords = 5 // 2-word header + flags, pagesize, rootdev
	memDwords  = 4 // 2-word header + size, start
	noneDwords = 0
)

const (
	coreFlags   = 1 // ATAG_FLAG_READONLY
	corePageSz  = 4096
	coreRootDev = 0
)

// Size is the number of bytes WriteBlock always produces: CORE (20 bytes) +
// MEM (16 bytes) + NONE (8 bytes).
const Size = 4*coreDwords + 4*memDwords + 8

// WriteBlock encodes the CORE/MEM/NONE sequence into dst starting at
// offset 0 and returns the number of bytes written. dst must have at
// least Size bytes remaining; the caller (proc.Process.Load) is
// responsible for positioning dst at mem.AtagBase within the guest's
// first page.
func WriteBlock(dst []byte) int {
	order := binary.LittleEndian
	off := 0

	putU32 := func(v uint32) {
		order.PutUint32(dst[off:], v)
		off += 4
	}

	putU32(coreDwords)
	putU32(tagCore)
	putU32(coreFlags)
	putU32(corePageSz)
	putU32(coreRootDev)

	putU32(memDwords)
	putU32(tagMem)
	putU32(uint32(mem.GuestMaxVMSize))
	putU32(0) // start

	putU32(noneDwords)
	putU32(tagNone)

	return off
}
