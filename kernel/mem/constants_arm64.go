package mem

// Constants describing the 64 KiB-granule, two-level translation scheme this
// hypervisor uses for both its own stage-1 tables and every guest's stage-2
// tables (spec.md §3, §4.2).
const (
	// PageShift is log2(PageSize); used to convert a physical address to a
	// page/frame number and back.
	PageShift = 16

	// PageSize is the hypervisor's page granule, fixed at 64 KiB.
	PageSize = Size(1 << PageShift)

	// PageAlign is the bit position of the ADDR field in a raw page table
	// entry (spec.md §3); ADDR<<PageAlign recovers the frame's physical
	// address.
	PageAlign = 16

	// L2Bits and L3Bits are the number of virtual/IPA address bits
	// consumed by each level of a PageTable. Each level indexes 8192
	// (1<<13) entries; L2 covers [41:29], L3 covers [28:16].
	L2Bits = 13
	L3Bits = 13

	// L2Shift and L3Shift locate the start of each level's index field
	// within an address.
	L3Shift = PageShift
	L2Shift = L3Shift + L3Bits

	// EntriesPerTable is the number of slots in an L2 or L3 table.
	EntriesPerTable = 1 << L2Bits
)

// VisorMaskBits and GuestMaskBits are the T0SZ-derived input address widths
// for the hypervisor's own stage-1 regime and a guest's stage-2 regime
// (spec.md §8). A PageTable instance only ever populates the bottom 1 GiB of
// whichever range (L2[0] and L2[1]); locate() panics on any address outside
// that populated window (spec.md §4.2).
const (
	VisorMaskBits = 32
	GuestMaskBits = 34
)

// Guest IPA layout (spec.md §8). KernStartAddr is where a Process's loader
// starts streaming the guest image; GuestMaxVMSize bounds the IPA range the
// stage-2 fault handler will lazily populate on a guest's behalf, and is
// also the MEM record size the ATAG block advertises to the guest kernel.
const (
	KernStartAddr  = 0x80000
	GuestMaxVMSize = 0x1000_0000
	AtagBase       = 0x100
)

// Tick is the scheduler's preemption quantum (spec.md §6), expressed in
// ticks of the BCM2837's free-running 1 MHz system timer (board.TimerCLO):
// the Timer1 handler re-arms COMPARE1 this many counts in the future every
// time it fires.
const Tick = 1_000_000
