// Package cpu wraps the privileged AArch64 instructions the hypervisor needs
// to run at EL2: barriers, system-register access, cache and TLB
// maintenance, and the wfe/wfi/eret trio that drive the idle loop and the
// world-switch. Every exported function here is declared without a body and
// implemented in cpu_arm64.s, mirroring the way the teacher package declares
// its privileged amd64 instructions in Go and implements them in assembly.
package cpu

// DisableIRQs masks IRQs at the current exception level (msr daifset, #2).
func DisableIRQs()

// EnableIRQs unmasks IRQs at the current exception level (msr daifclr, #2).
func EnableIRQs()

// WaitForEvent retires the core until the next event (wfe). Used by the
// scheduler's idle path instead of spinning when no process is runnable.
func WaitForEvent()

// SendEvent signals a waiting core (sev). kernel/sync's Mutex.Release uses
// it to wake cores parked in WaitForEvent.
func SendEvent()

// DataBarrier issues a full system data synchronization barrier (dsb sy).
// Required after a page table write and before the TLB invalidation that
// must observe it.
func DataBarrier()

// InstructionBarrier issues an instruction synchronization barrier (isb),
// flushing the pipeline so a just-changed system register (SCTLR_EL2,
// TCR_EL2, VBAR_EL2, ...) takes effect on the next fetched instruction.
func InstructionBarrier()

// ReadMPIDR returns MPIDR_EL1, used to derive the boot core's affinity id.
func ReadMPIDR() uint64

// ReadCurrentEL returns the CurrentEL system register; bits [3:2] hold the
// current exception level (2 for a hypervisor that has not yet dropped to a
// guest).
func ReadCurrentEL() uint64

// ReadID_AA64MMFR0 returns ID_AA64MMFR0_EL1, whose bits [3:0] give the
// implemented physical address range (PARange, for TCR_EL2.IPS) and whose
// bits [27:24] report 64 KiB translation granule support (TGran64) at
// stage 1 and 2.
func ReadID_AA64MMFR0() uint64

// ReadESR_EL2 returns the Exception Syndrome Register for the trap that is
// currently being handled.
func ReadESR_EL2() uint64

// ReadFAR_EL2 returns the Fault Address Register (the faulting virtual
// address) for the trap currently being handled.
func ReadFAR_EL2() uint64

// ReadHPFAR_EL2 returns the Hypervisor IPA Fault Address Register (the
// faulting guest-physical address, shifted right 8 bits by the hardware)
// for a stage-2 translation or permission fault.
func ReadHPFAR_EL2() uint64

// WriteVBAR_EL2 installs the hypervisor's exception vector table.
func WriteVBAR_EL2(addr uintptr)

// WriteMAIR_EL2 programs the memory attribute indirection register used by
// the hypervisor's own stage-1 page table entries.
func WriteMAIR_EL2(v uint64)

// WriteTCR_EL2 programs the stage-1 translation control register (T0SZ,
// granule size, cacheability and shareability attributes of the walk
// itself).
func WriteTCR_EL2(v uint64)

// WriteTTBR0_EL2 installs the physical address of the hypervisor's stage-1
// L2 table.
func WriteTTBR0_EL2(v uintptr)

// ReadSCTLR_EL2 returns the EL2 system control register.
func ReadSCTLR_EL2() uint64

// WriteSCTLR_EL2 programs the EL2 system control register; the M bit (bit
// 0) enables the stage-1 MMU once TTBR0_EL2/TCR_EL2/MAIR_EL2 are valid.
func WriteSCTLR_EL2(v uint64)

// WriteHCR_EL2 programs the hypervisor configuration register: VM (stage-2
// enable), RW (guest executes in AArch64), IMO/FMO/AMO (route guest
// IRQ/FIQ/SError traps to EL2), and TSC (trap guest SMC/HVC).
func WriteHCR_EL2(v uint64)

// WriteVTCR_EL2 programs the stage-2 translation control register (T0SZ,
// granule size and starting level for guest IPA translation).
func WriteVTCR_EL2(v uint64)

// WriteVTTBR_EL2 installs a guest's stage-2 table base address together
// with its VMID (bits [55:48]) ahead of a world-switch into that guest.
func WriteVTTBR_EL2(v uint64)

// CleanInvalidateRange performs a cache clean+invalidate by VA (dc civac)
// over [addr, addr+size), one cache line at a time, used after the
// hypervisor writes a page table or a guest image into memory the MMU is
// about to walk or execute with the old, possibly stale, cache state.
func CleanInvalidateRange(addr uintptr, size uintptr)

// InvalidateInstructionCache invalidates the entire instruction cache to
// point of unification (ic ialluis) and issues the barriers required for
// the invalidation to be visible before the next fetch.
func InvalidateInstructionCache()

// InvalidateAllEL2TLB invalidates every stage-1 TLB entry cached for the
// EL2 translation regime (tlbi alle2).
func InvalidateAllEL2TLB()

// InvalidateGuestTLB invalidates the combined stage-1+stage-2 TLB entries
// for the VMID currently loaded in VTTBR_EL2 (tlbi vmalls12e1). Call this
// after a guest's stage-2 table is mutated and before resuming the guest.
func InvalidateGuestTLB()
