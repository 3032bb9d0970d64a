// Package boot owns the one piece of this hypervisor that cannot be
// expressed in portable Go: the AArch64 exception vector table installed at
// VBAR_EL2, and the hand-off between it and kernel/exception's
// demultiplexer (spec.md §4.5, §4.6). It is grounded on kernel/trap's
// frame_arm64.s, the same convention of a thin, hand-written asm stub
// bracketing a call into ordinary Go code.
package boot

import (
	"rpi3visor/kernel/cpu"
	"rpi3visor/kernel/exception"
	"rpi3visor/kernel/irq"
	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/proc"
	"rpi3visor/kernel/trap"
)

// liveFrame is the single hardware-facing trap.Frame every world-switch
// reads and writes. The vector table's assembly locates it by taking the
// address of this symbol directly (vector_arm64.s), rather than dereferencing
// a Go pointer, so there is nothing for the stub to load before it has
// anywhere to save the guest state it is about to clobber.
var liveFrame trap.Frame

// scheduler is the hypervisor's single round-robin process table.
var scheduler proc.Scheduler

func init() {
	irq.Register(irq.Timer1, scheduler.HandleTick)
}

// Scheduler returns the hypervisor's scheduler, so kernel/kmain can load
// guest Processes into it before the first world-switch.
func Scheduler() *proc.Scheduler { return &scheduler }

// vectorTable, vectorTableAddr and commonHandler are implemented in
// vector_arm64.s. vectorTable is never called as a Go function — execution
// only ever reaches it via an exception taken while VBAR_EL2 points at it —
// but it and commonHandler must still be declared here so the linker keeps
// them live and resolves the symbols vector_arm64.s references.
func vectorTable()
func vectorTableAddr() uintptr
func commonHandler()

// Install points VBAR_EL2 at this package's vector table. It must run after
// hyp.Initialize (spec.md §4.3), since EL2 code — including every future
// exception entry — runs translated through the hypervisor's own stage-1
// mapping from that point on, and the table's address has to be covered by
// it.
func Install() {
	cpu.WriteVBAR_EL2(vectorTableAddr())
}

// trapEntry is the Go-level entry point the vector table's assembly stub
// calls into for every trap taken from a guest running at EL1, immediately
// after saving the interrupted guest's state into liveFrame (spec.md §4.6).
// source and kind identify which of the four "lower EL using AArch64"
// vector slots fired; esr, far and hpfar are the EL2 fault registers the
// stub read before calling in. They travel as uint64/uintptr rather than
// exception.Source/Kind/Class so the assembly stub only ever has to place
// whole 8-byte words on the stack.
func trapEntry(source, kind, esr uint64, far, hpfar uintptr) {
	var as *guest.AddressSpace
	if cur := scheduler.Current(); cur != nil {
		as = cur.AddressSpace
	}

	info := exception.Info{Source: exception.Source(source), Kind: exception.Kind(kind)}
	exception.Dispatch(info, esr, far, hpfar, &liveFrame, as)
}

// Run performs the initial world-switch: it blocks until some Process in
// the Scheduler is ready, loads it into liveFrame, and hands control to it
// via trap.ContextRestore. Run never returns; trap.ContextRestore ends in
// eret, transferring control to the guest PC and mode it just installed.
func Run() {
	scheduler.SwitchTo(&liveFrame)
	trap.ContextRestore(&liveFrame)
}
