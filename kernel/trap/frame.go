// Package trap defines the saved guest register file (Frame) a world-switch
// reads and writes, and the asm-backed save/restore primitives that move a
// Frame to and from live hardware state (spec.md §3, §4.5). It is grounded on
// gopher-os's kernel/gate package, which keeps the identical split: a plain Go
// struct describing "what was saved", with the actual save/restore mechanics
// delegated to assembly that knows the struct's exact layout.
package trap

// VMIDShift is the bit position of the VMID field within VTTBR_EL2: bits
// [55:48] tag every TLB entry a guest's stage-2 walks install, so two guests
// sharing the same stage-2 table base (never the case here, but the field
// exists regardless) still get distinct TLB entries.
const VMIDShift = 48

// EncodeVTTBR packs a stage-2 table's physical base address and a guest's
// VMID into the value VTTBR_EL2 (and Frame.VTTBR) expects.
func EncodeVTTBR(vmid uint8, tableBase uintptr) uint64 {
	return uint64(tableBase) | uint64(vmid)<<VMIDShift
}

// DecodeVMID extracts the VMID tag a VTTBR value was built with.
func DecodeVMID(vttbr uint64) uint8 {
	return uint8(vttbr >> VMIDShift)
}

// AArch64 PSTATE.{D,A,I,F} mask bits and the EL1h mode field, combined by
// InitialSPSR into the value a freshly loaded Process starts with.
const (
	pstateD    = 1 << 9
	pstateA    = 1 << 8
	pstateI    = 1 << 7
	pstateF    = 1 << 6
	modeEL1h   = 0b0101
	InitialSPSR = pstateD | pstateA | pstateI | pstateF | modeEL1h
)

// Frame is the saved guest architectural state, 16-byte aligned as required
// by the SIMD save area it embeds (spec.md §3). Field order is load-bearing:
// ContextSave and ContextRestore (frame_arm64.s) address every field by its
// fixed offset from the Frame's base, not by name.
type Frame struct {
	// VTTBR is the stage-2 table base address with the owning guest's VMID
	// packed into bits [55:48] (EncodeVTTBR). ContextRestore writes it to
	// VTTBR_EL2 ahead of eret; ContextSave reads it back from VTTBR_EL2, so
	// a save immediately following a restore reproduces the same value.
	VTTBR uint64

	// ELR is the saved guest PC — ELR_EL2, the target eret returns to.
	ELR uint64

	// Banked EL1 system registers: the guest's own MMU/exception state,
	// invisible to any other guest and restored verbatim across every
	// world-switch into this Process.
	TTBR0EL1 uint64
	TTBR1EL1 uint64
	SPEL0    uint64
	SPEL1    uint64
	SCTLREL1 uint64
	VBAREL1  uint64
	TPIDREL0 uint64
	TPIDREL1 uint64
	SPSREL1  uint64

	_pad uint64 // aligns the SIMD save area below to a 16-byte boundary

	// Q holds the 32 128-bit SIMD/FP registers q0..q31, each as a pair of
	// 64-bit halves in architectural (low, high) order.
	Q [32][2]uint64

	// X holds the 31 general-purpose registers x0..x30.
	X [31]uint64

	// XZR is a reserved slot matched to the zero register pushed by the
	// vector entry stub alongside lr, keeping the stub's stack pushes and
	// the Frame's general-register region the same shape.
	XZR uint64
}

// ContextSave writes the live EL2-visible guest state — VTTBR_EL2, ELR_EL2,
// the banked EL1 registers, general registers x0..x27 and every SIMD
// register — into f, in the field order Frame documents. x28, x29, x30 and
// the XZR slot are left for the vector entry stub, which stores them into f
// itself before calling ContextSave with f's address as the argument.
func ContextSave(f *Frame)

// ContextRestore reloads every field of f into live hardware state in the
// mirror order ContextSave saves them, then executes eret. It does not
// return to its caller in the usual sense: control passes to the guest PC
// and mode ContextRestore just installed.
func ContextRestore(f *Frame)
