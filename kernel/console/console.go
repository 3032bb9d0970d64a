// Package console names the two external-collaborator contracts spec.md §1
// and §6 place out of scope: the UART/console glue that backs
// kfmt.SetOutputSink, and the interactive debug shell the "guest fault
// surfaced to operator" error band drops into. Neither body is specified
// here — only the typed boundary the rest of the tree compiles against.
package console

import "rpi3visor/kernel/trap"

// Sink is the io.Writer-shaped contract a concrete mini-UART driver
// satisfies; wiring one in is `kfmt.SetOutputSink(someSink)` at boot, not
// this package's concern.
type Sink interface {
	Write(p []byte) (n int, err error)
}

// DebugShell is the fatal-path hook spec.md §7 band 2 calls after dumping
// syndrome, frame and VMID: an interactive shell a production build would
// replace with killing the offending Process. reason is a short
// human-readable description of what tripped the handler; tf is the
// faulting guest's trap frame, left intact for inspection.
//
// A real implementation never returns on hardware with no operator
// attached; kernel/exception only requires that DebugShell not corrupt tf.
type DebugShell func(reason string, tf *trap.Frame)
