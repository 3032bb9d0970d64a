// Package guest implements a single guest's stage-2 address space
// (spec.md §4.4): a GuestPageTable that starts empty and gains a Page on
// first touch of each IPA.
package guest

import (
	"unsafe"

	"rpi3visor/kernel"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/alloc"
	"rpi3visor/kernel/mem/hyp"
	"rpi3visor/kernel/mem/pt"
)

var errOOM = &kernel.Error{Module: "guest", Message: "out of memory allocating a guest page"}

// markNonCacheableFn is mocked by tests so they don't depend on
// kernel/mem/hyp having gone through its privileged Initialize sequence,
// and is automatically inlined by the compiler.
var markNonCacheableFn = hyp.MarkNonCacheable

// AddressSpace owns a guest's stage-2 GuestPageTable and every Page it has
// backed. All of it — the page tables and every page allocated through
// Alloc — is marked non-cacheable in the hypervisor's own stage-1 map, so
// a write the hypervisor makes (loading a guest image, populating ATAGs)
// is visible to the stage-2 walker without an explicit cache clean.
type AddressSpace struct {
	table *pt.Table
}

// New allocates a fresh, empty stage-2 GuestPageTable.
func New() (*AddressSpace, *kernel.Error) {
	t, err := pt.New(pt.Stage2)
	if err != nil {
		return nil, err
	}

	for _, p := range t.BackingPages() {
		markNonCacheableFn(p)
	}

	return &AddressSpace{table: t}, nil
}

// Table returns the underlying stage-2 page table, for installing into
// VTTBR_EL2 ahead of a world-switch.
func (as *AddressSpace) Table() *pt.Table { return as.table }

// Alloc reserves one Page from the allocator, zeroes it so no other
// guest's (or the hypervisor's own) prior use of that physical page ever
// leaks across the stage-2 boundary, installs a stage-2 L3 entry mapping
// ipa to it with the given permission, and returns a mutable view of the
// page. It panics if the slot is already valid or if the allocator is out
// of memory (spec.md §4.4) — unlike the allocator's own alloc, which
// returns null on OOM, a guest fault handler has no sensible way to retry,
// so failure here is always fatal.
func (as *AddressSpace) Alloc(ipa uintptr, perm pt.Stage2Perm) unsafe.Pointer {
	page := alloc.Pool.Alloc(mem.PageSize, mem.PageSize)
	if page == nil {
		panic(errOOM)
	}

	phys := uintptr(page)
	kernel.Memset(phys, 0, uintptr(mem.PageSize))
	as.table.MapStage2(ipa, phys, perm, pt.S2CacheWriteBack, pt.S2InnerWriteBack, pt.ShareInner)
	markNonCacheableFn(phys)

	return page
}

// Drop releases every Page this address space ever backed, plus its own
// page-table pages, back to the allocator.
func (as *AddressSpace) Drop() {
	as.table.WalkValid(func(addr uintptr, e pt.Entry) {
		alloc.Pool.Dealloc(unsafe.Pointer(e.Frame()), mem.PageSize)
		as.table.Clear(addr)
	})

	for _, p := range as.table.BackingPages() {
		alloc.Pool.Dealloc(unsafe.Pointer(p), mem.PageSize)
	}
}
