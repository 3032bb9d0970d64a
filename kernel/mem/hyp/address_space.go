// Package hyp builds and installs the hypervisor's own stage-1 address
// space (spec.md §4.3): a single VisorPageTable that identity-maps every
// byte of RAM and the peripheral MMIO window, backing the translation
// regime EL2 code itself runs under for the rest of the boot's lifetime.
package hyp

import (
	"rpi3visor/kernel"
	"rpi3visor/kernel/board"
	"rpi3visor/kernel/cpu"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/pt"
	"rpi3visor/kernel/sync"
)

// RAMSize is the span of physical RAM this hypervisor identity-maps below
// the peripheral window. board.IOBaseEnd already sits at the 1 GiB boundary
// on a BCM2837, so the whole of a VisorPageTable's addressable range is
// spent: RAM below IO_BASE, MMIO from IO_BASE to IO_BASE_END.
const RAMSize = board.IOBase

var (
	errAlreadyInit = &kernel.Error{Module: "hyp", Message: "hypervisor address space already initialized"}
	errNotInit     = &kernel.Error{Module: "hyp", Message: "hypervisor address space used before Initialize"}
	errNoTGran64   = &kernel.Error{Module: "hyp", Message: "CPU does not support the 64 KiB translation granule"}
)

// AArch64 TCR_EL2/VTCR_EL2 and SCTLR_EL2 field layout.
const (
	tg0_64k = 0b01
	tg0Shift = 14

	sh0Inner = 0b11
	sh0Shift = 12

	orgnWB    = 0b01
	orgnShift = 10

	irgnWB    = 0b01
	irgnShift = 8

	ipsShift = 16

	sg0_64k   = 0b01 // VTCR_EL2.SG0 / TG0 encoding is identical for 64 KiB
	sl0Level2 = 0b01 // stage-2 walk starts at level 2 (matches this module's two-level table)
	sl0Shift  = 6

	sctlrM = 1 << 0
	sctlrC = 1 << 2
	sctlrI = 1 << 12

	hcrVM  = 1 << 0
	hcrRW  = 1 << 31
	hcrIMO = 1 << 4
	hcrFMO = 1 << 3
	hcrAMO = 1 << 5
	hcrTSC = 1 << 19

	tgran64SupportedValue = 0x0 // ID_AA64MMFR0_EL1.TGran64 == 0 means "supported"
	tgran64Shift          = 24
	tgran64Mask           = 0xF

	parangeMask = 0xF
)

var (
	mu          sync.Mutex
	initialized bool
	table       *pt.Table
)

// Initialize builds the VisorPageTable, identity-maps RAM and the MMIO
// window into it, and programs MAIR_EL2/TCR_EL2/TTBR0_EL2/SCTLR_EL2 and
// the stage-2 control registers VTCR_EL2/HCR_EL2 (spec.md §4.3). It may be
// called exactly once.
func Initialize() *kernel.Error {
	var err *kernel.Error

	mu.WithLock(func() {
		if initialized {
			err = errAlreadyInit
			return
		}

		t, e := pt.New(pt.Stage1)
		if e != nil {
			err = e
			return
		}

		for addr := uintptr(0); addr < RAMSize; addr += uintptr(mem.PageSize) {
			t.MapStage1(addr, addr, pt.AttrNormalWB, pt.KernRW, pt.ShareInner)
		}
		for addr := uintptr(board.IOBase); addr < board.IOBaseEnd; addr += uintptr(mem.PageSize) {
			t.MapStage1(addr, addr, pt.AttrDevice, pt.KernRW, pt.ShareOuter)
		}

		if e := programStage1(t); e != nil {
			err = e
			return
		}
		programStage2()

		table = t
		initialized = true
	})

	return err
}

func programStage1(t *pt.Table) *kernel.Error {
	mair := mairValue()
	cpu.WriteMAIR_EL2(mair)

	mmfr0 := cpu.ReadID_AA64MMFR0()
	if (mmfr0>>tgran64Shift)&tgran64Mask != tgran64SupportedValue {
		return errNoTGran64
	}
	parange := mmfr0 & parangeMask

	tcr := uint64(64 - mem.VisorMaskBits) // T0SZ
	tcr |= tg0_64k << tg0Shift
	tcr |= sh0Inner << sh0Shift
	tcr |= orgnWB << orgnShift
	tcr |= irgnWB << irgnShift
	tcr |= parange << ipsShift
	cpu.WriteTCR_EL2(tcr)

	cpu.WriteTTBR0_EL2(t.BaseAddress())

	cpu.InstructionBarrier()
	cpu.InvalidateAllEL2TLB()

	sctlr := cpu.ReadSCTLR_EL2()
	sctlr |= sctlrM | sctlrC | sctlrI
	cpu.WriteSCTLR_EL2(sctlr)

	return nil
}

// mairValue packs the three MAIR_EL2 attribute encodings this hypervisor
// uses into their respective 8-bit slots: 0=normal-WB, 1=device-nGnRE,
// 2=non-cacheable.
func mairValue() uint64 {
	const (
		attrNormalWB    = 0xFF // inner+outer write-back, read/write allocate
		attrDeviceNGnRE = 0x04
		attrNonCacheable = 0x44
	)
	return uint64(attrNormalWB) | uint64(attrDeviceNGnRE)<<8 | uint64(attrNonCacheable)<<16
}

func programStage2() {
	vtcr := uint64(64 - mem.GuestMaskBits) // T0SZ
	vtcr |= sg0_64k << tg0Shift
	vtcr |= sh0Inner << sh0Shift
	vtcr |= orgnWB << orgnShift
	vtcr |= irgnWB << irgnShift
	vtcr |= sl0Level2 << sl0Shift
	cpu.WriteVTCR_EL2(vtcr)

	hcr := uint64(hcrVM | hcrRW | hcrIMO | hcrFMO | hcrAMO | hcrTSC)
	cpu.WriteHCR_EL2(hcr)
}

// Table returns the installed VisorPageTable. It panics if Initialize has
// not been called.
func Table() *pt.Table {
	mustBeInitialized()
	return table
}

// MarkNonCacheable flags addr's stage-1 entry as pointing to a page that
// must bypass the data cache. kernel/mem/guest applies it to every page it
// allocates for a guest (spec.md §4.4).
func MarkNonCacheable(addr uintptr) {
	mustBeInitialized()
	mu.WithLock(func() {
		table.SetNonCacheable(addr)
	})
}

func mustBeInitialized() {
	if !initialized {
		panic(errNotInit)
	}
}
