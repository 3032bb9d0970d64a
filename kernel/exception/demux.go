package exception

import (
	"io"

	"rpi3visor/kernel/board"
	"rpi3visor/kernel/console"
	"rpi3visor/kernel/irq"
	"rpi3visor/kernel/kfmt"
	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/sync"
	"rpi3visor/kernel/trap"
)

// Source identifies which exception level and stack pointer an exception
// was taken from, mirroring the four AArch64 vector-table groups.
type Source uint8

const (
	CurrentELSP0 Source = iota
	CurrentELSPx
	LowerAArch64
	LowerAArch32
)

// Kind identifies which of a vector group's four entries fired.
type Kind uint8

const (
	Synchronous Kind = iota
	IRQ
	FIQ
	SErrorKind
)

// Info names the vector-table entry the CPU took.
type Info struct {
	Source Source
	Kind   Kind
}

var guard sync.ReentrantLock

// debugShellFn is the boundary to the interactive debug shell (an external
// collaborator per spec.md §1, not specified here); tests substitute a
// no-op sink. On real hardware it never returns.
var debugShellFn console.DebugShell = func(reason string, tf *trap.Frame) {
	kfmt.Printf("\n*** %s ***\n", reason)
	for {
	}
}

// readEnabledPendingFn is mocked by tests so the IRQ routing logic never
// performs a real MMIO read against interrupt-controller registers.
var readEnabledPendingFn = readEnabledPending

func readEnabledPending() (bank1, bank2, basic uint32) {
	bank1 = board.Read32(board.IRQPending1) & board.Read32(board.EnableIRQs1)
	bank2 = board.Read32(board.IRQPending2) & board.Read32(board.EnableIRQs2)
	basic = board.Read32(board.IRQBasicPending) & board.Read32(board.EnableBasicIRQs)
	return
}

// Dispatch is the single Go-level entry point the vector table's assembly
// stub calls into for every trap taken from a lower EL, after it has
// already called trap.ContextSave to persist the interrupted guest's state
// (spec.md §4.6). esr, far and hpfar are the EL2 fault registers the stub
// read before calling in; as is the currently-scheduled Process's stage-2
// address space, needed only for the Synchronous path.
//
// Dispatch wraps every branch in a reentrancy guard: a trap raised while
// already inside Dispatch is a double fault, and panics immediately rather
// than silently corrupting the frame of whichever Process was being
// serviced (spec.md §7 band 3).
func Dispatch(info Info, esr uint64, far, hpfar uintptr, tf *trap.Frame, as *guest.AddressSpace) {
	guard.Enter()
	defer guard.Exit()

	switch {
	case info.Source == LowerAArch64 && info.Kind == Synchronous:
		handleStage2Fault(Decode(esr), far, hpfar, tf, as)

	case info.Source == LowerAArch64 && info.Kind == IRQ:
		dispatchIRQ(tf)

	default:
		fatal(tf, "unexpected trap source/kind")
	}
}

func dispatchIRQ(tf *trap.Frame) {
	bank1, bank2, basic := readEnabledPendingFn()

	if bank1&(1<<board.IRQTimer1) != 0 {
		irq.Invoke(irq.Timer1, tf)
	}
	if bank1&(1<<board.IRQTimer3) != 0 {
		irq.Invoke(irq.Timer3, tf)
	}
	if bank2&(1<<board.IRQUsb) != 0 {
		irq.Invoke(irq.Usb, tf)
	}
	if bank2&(1<<board.IRQGpio0) != 0 {
		irq.Invoke(irq.Gpio0, tf)
	}
	if bank2&(1<<board.IRQGpio1) != 0 {
		irq.Invoke(irq.Gpio1, tf)
	}
	if bank2&(1<<board.IRQGpio2) != 0 {
		irq.Invoke(irq.Gpio2, tf)
	}
	if bank2&(1<<board.IRQGpio3) != 0 {
		irq.Invoke(irq.Gpio3, tf)
	}
	if basic&(1<<board.IRQUart) != 0 {
		irq.Invoke(irq.Uart, tf)
	}
}

// fatal prints the trap context and drops into the debug shell, the
// "guest fault surfaced to operator" and "anything else" bands of spec.md
// §7; a production build would kill the offending Process instead of
// halting. Every line is tagged "[fault] ", the same way a HAL's driver
// probe tags each driver's init trace with its own name, so a fault report
// is easy to pick out of a console that may already be mid-scrollback.
func fatal(tf *trap.Frame, reason string) {
	w := fatalWriter()
	kfmt.Fprintf(w, "reason: %s\n", reason)
	kfmt.Fprintf(w, "ELR=%16x SPSR_EL1=%16x VTTBR=%16x\n", tf.ELR, tf.SPSREL1, tf.VTTBR)
	debugShellFn(reason, tf)
}

// fatalWriter wraps the console's current output sink in a PrefixWriter, or
// falls back to Printf's own default sink (nil meaning "buffer until one
// exists") when none has been wired in yet.
func fatalWriter() io.Writer {
	sink := kfmt.GetOutputSink()
	if sink == nil {
		return nil
	}
	return &kfmt.PrefixWriter{Sink: sink, Prefix: []byte("[fault] ")}
}
