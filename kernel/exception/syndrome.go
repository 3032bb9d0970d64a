// Package exception is the hypervisor's trap demultiplexer (spec.md §4.6):
// it decodes why EL2 was entered from the ESR, routes synchronous stage-2
// faults to the lazy-paging and MMIO-emulation logic of §4.7/§4.8, routes
// IRQs to kernel/irq's dispatch table, and treats everything else as fatal.
// Grounded on gopheros kernel/irq's Frame/Regs "one struct, print method"
// idiom for the fatal-path context dump, combined with kernel/gate's
// interrupt-number-keyed handler registration for C10.
package exception

// Class is the ESR major exception class (bits [31:26], "EC").
type Class uint8

const (
	Unknown Class = iota
	WfiWfe
	SimdFp
	IllegalExecutionState
	Svc
	Hvc
	Smc
	MsrMrsSystem
	InstructionAbort
	PCAlignmentFault
	DataAbort
	SpAlignmentFault
	TrappedFpu
	SError
	Breakpoint
	Step
	Watchpoint
	Brk
	Other
)

// classTable maps the architectural EC encodings this hypervisor cares
// about to the variants spec.md §4.6 names. ECs not listed here (reserved
// or guest-only encodings this configuration never traps) fall through to
// Other.
var classTable = map[uint8]Class{
	0b000000: Unknown,
	0b000001: WfiWfe,
	0b000111: SimdFp,
	0b001110: IllegalExecutionState,
	0b010001: Svc,
	0b010101: Svc,
	0b010010: Hvc,
	0b010110: Hvc,
	0b010011: Smc,
	0b010111: Smc,
	0b011000: MsrMrsSystem,
	0b100000: InstructionAbort,
	0b100001: InstructionAbort,
	0b100010: PCAlignmentFault,
	0b100100: DataAbort,
	0b100101: DataAbort,
	0b100110: SpAlignmentFault,
	0b101000: TrappedFpu,
	0b101100: TrappedFpu,
	0b101111: SError,
	0b110000: Breakpoint,
	0b110001: Breakpoint,
	0b110010: Step,
	0b110011: Step,
	0b110100: Watchpoint,
	0b110101: Watchpoint,
	0b111100: Brk,
}

// FaultKind is the abort-specific fault kind carried in ESR bits [5:2],
// meaningful only when Class is InstructionAbort or DataAbort.
type FaultKind uint8

const (
	AddressSize FaultKind = iota
	Translation
	AccessFlag
	Permission
	Alignment
	TlbConflict
	OtherFault
)

func decodeFaultKind(esr uint64) FaultKind {
	switch (esr >> 2) & 0xF {
	case 0b0000:
		return AddressSize
	case 0b0001:
		return Translation
	case 0b0010:
		return AccessFlag
	case 0b0011:
		return Permission
	case 0b0100, 0b1000:
		return Alignment
	case 0b1100:
		return TlbConflict
	default:
		return OtherFault
	}
}

// DataAbortSyndrome is the ISS of a data-abort ESR (spec.md §4.8), decoded
// field-for-field in the style kernel/mem/pt uses for raw page-table
// entries.
type DataAbortSyndrome struct {
	Fault FaultKind
	ISV   bool
	SAS   uint8 // 0=byte, 1=halfword, 2=word, 3=doubleword
	SSE   bool
	SRT   uint8 // index into trap.Frame.X
	SF    bool  // 1 = 64-bit register width
	CM    bool  // cache-maintenance abort; always fatal
	WnR   bool  // 0 = load, 1 = store
}

func decodeDataAbort(esr uint64) DataAbortSyndrome {
	iss := esr & 0x01FF_FFFF
	return DataAbortSyndrome{
		Fault: decodeFaultKind(esr),
		ISV:   iss>>24&1 != 0,
		SAS:   uint8(iss>>22) & 0x3,
		SSE:   iss>>21&1 != 0,
		SRT:   uint8(iss>>16) & 0x1F,
		SF:    iss>>15&1 != 0,
		CM:    iss>>8&1 != 0,
		WnR:   iss>>6&1 != 0,
	}
}

// decodeFnV reads ISS bit 10, "FAR not Valid" — the same bit position in
// both the Instruction Abort and Data Abort ISS encodings (ARM ARM
// D17.2.28/D17.2.40). When set, FAR_EL2 does not hold a precise address for
// this fault and callers must fall back to the (4 KiB-granular) IPA that
// HPFAR_EL2 reports instead (spec.md §4.7).
func decodeFnV(esr uint64) bool {
	return (esr>>10)&1 != 0
}

// Syndrome is the fully decoded ESR: the major class, plus the abort-kind
// and data-abort ISS fields that only apply when Class warrants them. FnV
// is hoisted out of DataAbortSyndrome because it governs FAR_EL2's
// trustworthiness for both DataAbort and InstructionAbort classes, not just
// the former.
type Syndrome struct {
	Class     Class
	Fault     FaultKind
	FnV       bool
	DataAbort DataAbortSyndrome
}

// Decode parses a raw ESR_EL2 value into a Syndrome.
func Decode(esr uint64) Syndrome {
	ec := uint8(esr>>26) & 0x3F
	class, ok := classTable[ec]
	if !ok {
		class = Other
	}

	s := Syndrome{Class: class}
	switch class {
	case InstructionAbort, DataAbort:
		s.Fault = decodeFaultKind(esr)
		s.FnV = decodeFnV(esr)
	}
	if class == DataAbort {
		s.DataAbort = decodeDataAbort(esr)
	}
	return s
}
