// Package kmain is the hypervisor's orchestration entry point (spec.md
// §4.1): it brings up the physical frame allocator, the hypervisor's own
// stage-1 address space, the exception vector table, and the first
// guest Process, then hands off control and never returns. Grounded on
// gopher-os's own kernel/kmain package, which plays exactly this role for
// the x86 teacher — SetInfoPtr, InitTerminal, a Kmain that is "not expected
// to return" — generalized from a multiboot-supplied info pointer to the
// BCM2837-specific bring-up this spec calls for.
package kmain

import (
	"rpi3visor/kernel/boot"
	"rpi3visor/kernel/image"
	"rpi3visor/kernel/kfmt"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/alloc"
	"rpi3visor/kernel/mem/hyp"
	"rpi3visor/kernel/proc"
)

// Kmain is the only Go symbol the reset stub calls into — the same boundary
// gopher-os draws around its own rt0/Kmain split. Everything from the first
// instruction fetch out of reset up to a minimal EL2 stack and zeroed BSS is
// assumed done already, by board-bring-up code this spec places out of
// scope (spec.md §1 Non-goals) and which, like gopher-os's own rt0, never
// lived inside this Go module to begin with.
//
// heapEnd is the first physical address past the hypervisor's own loaded
// image — ordinarily a linker-provided _end symbol — marking where the
// physical frame allocator's pool may safely begin; everything from there
// up to hyp.RAMSize is handed to it. guestImage is the first guest kernel
// to load, read from whatever boot-media driver (also out of scope) the
// reset stub wired up; kernel/image.Reader is the one contract this module
// asks of it.
//
// Kmain does not return. If it somehow did, the reset stub is expected to
// halt or reset the board.
//
//go:noinline
func Kmain(heapEnd uintptr, guestImage image.Reader) {
	heapStart := (heapEnd + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)
	if err := alloc.Pool.Initialize(heapStart, mem.Size(hyp.RAMSize)-mem.Size(heapStart)); err != nil {
		kfmt.Panic(err)
	}

	if err := hyp.Initialize(); err != nil {
		kfmt.Panic(err)
	}

	boot.Install()

	p, err := proc.Load(guestImage)
	if err != nil {
		kfmt.Panic(err)
	}
	boot.Scheduler().Add(p)

	boot.Run()

	for {
	}
}
