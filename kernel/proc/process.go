// Package proc is the process table and round-robin scheduler (spec.md
// §4.9): one guest image maps to one Process, exclusively owning a
// trap.Frame and a guest.AddressSpace, tracked through a small Ready ->
// Running -> Waiting(pred) -> Dead state machine.
package proc

import (
	"io"
	"unsafe"

	"rpi3visor/kernel"
	"rpi3visor/kernel/atag"
	"rpi3visor/kernel/image"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/mem/pt"
	"rpi3visor/kernel/trap"
)

// ID identifies a Process by its VMID, the same 8-bit tag EncodeVTTBR packs
// into VTTBR_EL2 bits [55:48].
type ID = uint8

var errImageRead = &kernel.Error{Module: "proc", Message: "reading the guest image failed"}

// sctlrEL1RES1 packs the SCTLR_EL1 bits the ARMv8.0 architecture defines as
// reserved-1 (ARM ARM D13.2.118): 11, 20, 22, 23, 28, 29. A freshly loaded
// guest's SCTLR_EL1 starts here so its own first MMU-enable write only has
// to OR in the bits it actually cares about.
const sctlrEL1RES1 = 1<<11 | 1<<20 | 1<<22 | 1<<23 | 1<<28 | 1<<29

// invalidVBAREL1 is an address no stage-2 mapping will ever back. A fresh
// Process starts with its vector base pointed here so a guest that traps
// before installing its own handlers double-faults immediately instead of
// looping on a zeroed, garbage vector table.
const invalidVBAREL1 = 0x1_DEAD_0000

// StateKind is the scheduling state a Process is in.
type StateKind uint8

const (
	Ready StateKind = iota
	Running
	Waiting
	Dead
)

// State is the Process scheduling state: Ready/Running/Dead carry no extra
// data, Waiting carries the predicate the scheduler polls once per pass.
type State struct {
	Kind StateKind
	Pred func(*Process) bool
}

// Process exclusively owns one guest's trap.Frame and stage-2
// guest.AddressSpace.
type Process struct {
	Frame        *trap.Frame
	AddressSpace *guest.AddressSpace
	State        State
}

// New allocates a fresh, empty guest address space and a trap frame pointed
// at it (VTTBR set, VBAR_EL1 and SCTLR_EL1 at their reset values, every
// other field zero), in state Ready.
func New() (*Process, *kernel.Error) {
	as, err := guest.New()
	if err != nil {
		return nil, err
	}

	return &Process{
		Frame: &trap.Frame{
			VTTBR:    uint64(as.Table().BaseAddress()),
			VBAREL1:  invalidVBAREL1,
			SCTLREL1: sctlrEL1RES1,
		},
		AddressSpace: as,
		State:        State{Kind: Ready},
	}, nil
}

// setVMID re-encodes VTTBR with id packed into bits [55:48], leaving
// whatever stage-2 table base New already wrote into the low 48 bits
// untouched.
func (p *Process) setVMID(id ID) {
	const tableBaseMask = 0x0000_FFFF_FFFF_FFFF
	p.Frame.VTTBR = trap.EncodeVTTBR(id, uintptr(p.Frame.VTTBR&tableBaseMask))
}

// VMID returns the VMID this Process was assigned by Scheduler.Add.
func (p *Process) VMID() ID {
	return trap.DecodeVMID(p.Frame.VTTBR)
}

// isReady reports whether p can be scheduled this pass: true if already
// Ready, or if p is Waiting and its predicate now holds (in which case the
// state transitions to Ready as a side effect).
func (p *Process) isReady() bool {
	switch p.State.Kind {
	case Ready:
		return true
	case Waiting:
		if p.State.Pred(p) {
			p.State = State{Kind: Ready}
			return true
		}
		return false
	default:
		return false
	}
}

// Load builds a Process and streams a guest kernel image into it (spec.md
// §4.9): IPA 0 gets a page holding the ATAG block at mem.AtagBase, IPAs
// [PageSize, KernStartAddr) are padded with empty pages, and the image
// itself is streamed page by page starting at mem.KernStartAddr. ELR,
// SPSR_EL1 and SCTLR_EL1 are left pointed at the guest's entry point ready
// for the first world-switch.
func Load(r image.Reader) (*Process, *kernel.Error) {
	p, err := New()
	if err != nil {
		return nil, err
	}
	as := p.AddressSpace

	nullPage := as.Alloc(0, pt.S2ReadWrite)
	atag.WriteBlock(pageBytes(nullPage)[mem.AtagBase:])

	for va := uintptr(mem.PageSize); va < mem.KernStartAddr; va += uintptr(mem.PageSize) {
		as.Alloc(va, pt.S2ReadWrite)
	}

	for va := uintptr(mem.KernStartAddr); ; va += uintptr(mem.PageSize) {
		page := as.Alloc(va, pt.S2ReadWrite)
		buf := pageBytes(page)

		n := 0
		var rerr error
		for n < len(buf) {
			var nread int
			nread, rerr = r.Read(buf[n:])
			n += nread
			if rerr != nil {
				break
			}
		}
		if rerr != nil && rerr != io.EOF {
			return nil, errImageRead
		}
		if rerr != nil {
			break
		}
	}

	p.Frame.ELR = mem.KernStartAddr
	p.Frame.SPSREL1 = trap.InitialSPSR

	return p, nil
}

func pageBytes(p unsafe.Pointer) []byte {
	return (*[mem.PageSize]byte)(p)[:]
}
