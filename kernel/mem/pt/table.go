// Package pt implements the page-table primitive shared by the
// hypervisor's own stage-1 address space and every guest's stage-2 address
// space: one L2 table plus two L3 tables, spanning a fixed 1 GiB input
// address window at 64 KiB granularity. kernel/mem/hyp builds the
// hypervisor's stage-1 mapping on top of it; kernel/mem/guest builds a
// guest's stage-2 mapping on top of it. The raw entry layout differs
// between the two encodings (spec.md §3); which one a Table uses is fixed
// at construction and never changes for that table's lifetime.
package pt

import (
	"rpi3visor/kernel"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/alloc"
)

var (
	errOOM         = &kernel.Error{Module: "pt", Message: "out of memory allocating a page table"}
	errUnaligned   = &kernel.Error{Module: "pt", Message: "address is not page-aligned"}
	errOutOfRange  = &kernel.Error{Module: "pt", Message: "address falls outside the table's 1 GiB window"}
	errAlreadyUsed = &kernel.Error{Module: "pt", Message: "slot is already valid"}
)

// Encoding selects which of the two raw entry layouts a Table uses.
type Encoding uint8

const (
	// Stage1 is the hypervisor's own VA->PA translation regime.
	Stage1 Encoding = iota
	// Stage2 is a guest's IPA->PA translation regime.
	Stage2
)

// Entry is a raw 64-bit page/table descriptor. Bit layout depends on the
// owning Table's Encoding (spec.md §3):
//
//	Stage-1: ADDR[47:16] AF[10] SH[9:8] AP[7:6]   NS[5]      ATTR[4:2] TYPE[1] VALID[0]
//	Stage-2: ADDR[47:16] AF[10] SH[9:8] S2AP[7:6] CACHE[5:4] ATTR[3:2] TYPE[1] VALID[0]
type Entry uint64

const (
	flagValid = Entry(1 << 0)
	flagType  = Entry(1 << 1)
	flagAF    = Entry(1 << 10)

	addrMask = Entry(0x0000_FFFF_FFFF_0000)

	shShift = 8
	shMask  = Entry(0x3 << shShift)

	permShift = 6
	permMask  = Entry(0x3 << permShift)

	s1AttrShift = 2
	s1AttrMask  = Entry(0x7 << s1AttrShift)
	s1NSBit     = Entry(1 << 5)

	s2AttrShift  = 2
	s2AttrMask   = Entry(0x3 << s2AttrShift)
	s2CacheShift = 4
	s2CacheMask  = Entry(0x3 << s2CacheShift)
)

// Share selects the shareability domain of a mapping.
type Share uint8

const (
	ShareOuter Share = 2
	ShareInner Share = 3
)

// Stage1Attr indexes MAIR_EL2 (spec.md §4.3: slot 0 normal-WB, slot 1
// device-nGnRE, slot 2 non-cacheable).
type Stage1Attr uint8

const (
	AttrNormalWB Stage1Attr = 0
	AttrDevice   Stage1Attr = 1
	AttrNonCacheable Stage1Attr = 2
)

// Stage1Perm is the AP field of a stage-1 entry. The hypervisor's own
// stage-1 regime has no lower-EL view to distinguish, so the only
// permission this module issues is read/write at EL2.
type Stage1Perm uint8

const KernRW Stage1Perm = 0

// Stage2Perm is the S2AP field of a stage-2 entry.
type Stage2Perm uint8

const (
	S2NoAccess  Stage2Perm = 0b00
	S2ReadOnly  Stage2Perm = 0b01
	S2WriteOnly Stage2Perm = 0b10
	S2ReadWrite Stage2Perm = 0b11
)

// Stage2Cache and Stage2Inner together form the stage-2 MemAttr nibble:
// Cache is the outer attribute (bits [5:4]), Inner is the inner attribute
// (bits [3:2]). WriteBack on both halves gives the "outer-WB / inner-WB"
// mapping spec.md §4.2 requires for every stage-2 page.
type Stage2Cache uint8
type Stage2Inner uint8

const (
	S2CacheWriteBack Stage2Cache = 0b11
	S2InnerWriteBack Stage2Inner = 0b11
)

// Table is one L2 table (EntriesPerTable entries) plus two L3 tables
// (EntriesPerTable entries each), together spanning 1 GiB of input address
// space at 64 KiB granularity. L2[0] and L2[1] are initialized at
// construction to point at the two L3 tables; every other L2 slot is left
// invalid, since this module never populates more than 1 GiB.
type Table struct {
	encoding Encoding

	l2 *[mem.EntriesPerTable]Entry
	l3 [2]*[mem.EntriesPerTable]Entry

	l2Phys uintptr
	l3Phys [2]uintptr
}

// New allocates the backing pages for a fresh Table and wires L2[0]/L2[1]
// to the two L3 tables. Each of the three tables is exactly one 64 KiB
// page (EntriesPerTable * 8 bytes), so the pages come straight from
// alloc.Pool.
func New(encoding Encoding) (*Table, *kernel.Error) {
	l2Ptr := alloc.Pool.Alloc(mem.PageSize, mem.PageSize)
	if l2Ptr == nil {
		return nil, errOOM
	}
	l3aPtr := alloc.Pool.Alloc(mem.PageSize, mem.PageSize)
	if l3aPtr == nil {
		alloc.Pool.Dealloc(l2Ptr, mem.PageSize)
		return nil, errOOM
	}
	l3bPtr := alloc.Pool.Alloc(mem.PageSize, mem.PageSize)
	if l3bPtr == nil {
		alloc.Pool.Dealloc(l2Ptr, mem.PageSize)
		alloc.Pool.Dealloc(l3aPtr, mem.PageSize)
		return nil, errOOM
	}

	t := &Table{
		encoding: encoding,
		l2:       (*[mem.EntriesPerTable]Entry)(l2Ptr),
		l3:       [2]*[mem.EntriesPerTable]Entry{(*[mem.EntriesPerTable]Entry)(l3aPtr), (*[mem.EntriesPerTable]Entry)(l3bPtr)},
		l2Phys:   uintptr(l2Ptr),
		l3Phys:   [2]uintptr{uintptr(l3aPtr), uintptr(l3bPtr)},
	}

	for i := range t.l2 {
		t.l2[i] = 0
	}
	for side := range t.l3 {
		for i := range t.l3[side] {
			t.l3[side][i] = 0
		}
	}

	t.l2[0] = tableDescriptor(t.l3Phys[0])
	t.l2[1] = tableDescriptor(t.l3Phys[1])

	return t, nil
}

// Encoding reports which raw entry layout this Table uses.
func (t *Table) Encoding() Encoding { return t.encoding }

// BaseAddress returns the physical address of the L2 table, suitable for
// programming into TTBR0_EL2 or VTTBR_EL2.
func (t *Table) BaseAddress() uintptr { return t.l2Phys }

// BackingPages returns the physical addresses of the three pages that make
// up this Table itself (the L2 table and its two L3 tables).
func (t *Table) BackingPages() [3]uintptr {
	return [3]uintptr{t.l2Phys, t.l3Phys[0], t.l3Phys[1]}
}

// WalkValid invokes fn once for every valid L3 entry in the table, passing
// the input address it is installed at and the entry itself.
func (t *Table) WalkValid(fn func(addr uintptr, e Entry)) {
	for side := 0; side < 2; side++ {
		base := uintptr(side) << mem.L2Shift
		for idx, e := range t.l3[side] {
			if e.Valid() {
				fn(base+uintptr(idx)<<mem.L3Shift, e)
			}
		}
	}
}

func tableDescriptor(l3Phys uintptr) Entry {
	return addrField(l3Phys) | flagAF | flagType | flagValid
}

func addrField(pa uintptr) Entry {
	return Entry(uint64(pa)) & addrMask
}

// locate maps an input address to its L3 slot, per spec.md §4.2: L2 index
// from bits [41:29], L3 index from bits [28:16]. It panics if the L2 index
// is >= 2 (this Table only ever spans 1 GiB) or if the address isn't
// 64 KiB aligned.
func (t *Table) locate(addr uintptr) *Entry {
	if uint64(addr)&uint64(mem.PageSize-1) != 0 {
		panic(errUnaligned)
	}

	l2idx := (uint64(addr) >> mem.L2Shift) & (mem.EntriesPerTable - 1)
	if l2idx >= 2 {
		panic(errOutOfRange)
	}
	l3idx := (uint64(addr) >> mem.L3Shift) & (mem.EntriesPerTable - 1)

	return &t.l3[l2idx][l3idx]
}

// Lookup returns the L3 entry for addr and whether it is currently valid.
func (t *Table) Lookup(addr uintptr) (Entry, bool) {
	e := t.locate(addr)
	return *e, e.Valid()
}

// MapStage1 installs a stage-1 L3 entry for addr -> phys with the given
// MAIR attribute index, permission and shareability. It panics if encoding
// is not Stage1.
func (t *Table) MapStage1(addr, phys uintptr, attr Stage1Attr, perm Stage1Perm, sh Share) {
	t.mustBeStage(Stage1)

	e := addrField(phys) | flagAF | flagType | flagValid
	e |= Entry(sh) << shShift
	e |= Entry(perm) << permShift
	e |= (Entry(attr) << s1AttrShift) & s1AttrMask

	*t.locate(addr) = e
}

// MapStage2 installs a stage-2 L3 entry for ipa -> phys. It panics if
// encoding is not Stage2 or if the slot is already valid (spec.md §3:
// GuestPageTable "panics if the slot is already valid").
func (t *Table) MapStage2(ipa, phys uintptr, perm Stage2Perm, cache Stage2Cache, inner Stage2Inner, sh Share) {
	t.mustBeStage(Stage2)

	slot := t.locate(ipa)
	if slot.Valid() {
		panic(errAlreadyUsed)
	}

	e := addrField(phys) | flagAF | flagType | flagValid
	e |= Entry(sh) << shShift
	e |= Entry(perm) << permShift
	e |= (Entry(cache) << s2CacheShift) & s2CacheMask
	e |= (Entry(inner) << s2AttrShift) & s2AttrMask

	*slot = e
}

// Clear invalidates the L3 entry for addr without touching the frame it
// pointed to; the caller is responsible for returning that frame to the
// allocator.
func (t *Table) Clear(addr uintptr) {
	*t.locate(addr) = 0
}

// SetNonCacheable marks the L3 entry for addr as pointing to a page that
// must not be cached by the data cache (spec.md §4.3: pages holding page
// tables themselves, so the MMU walker never observes a stale cache line).
// It only applies to Stage1 tables.
func (t *Table) SetNonCacheable(addr uintptr) {
	t.mustBeStage(Stage1)

	e := t.locate(addr)
	*e = (*e &^ s1AttrMask) | (Entry(AttrNonCacheable) << s1AttrShift)
}

// Frame returns the physical address an entry points to.
func (e Entry) Frame() uintptr { return uintptr(e & addrMask) }

// Valid reports whether the entry's VALID bit is set.
func (e Entry) Valid() bool { return e&flagValid != 0 }

func (t *Table) mustBeStage(want Encoding) {
	if t.encoding != want {
		panic(&kernel.Error{Module: "pt", Message: "operation requires a different table encoding"})
	}
}
