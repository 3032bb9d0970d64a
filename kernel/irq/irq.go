// Package irq is the fixed-size dispatch table the exception demultiplexer
// consults for every pending, enabled interrupt line (spec.md §4.10).
package irq

import "rpi3visor/kernel/trap"

// Line identifies one of the BCM2837 interrupt sources this hypervisor
// routes, independent of which pending/enable register bank it lives in
// (kernel/exception's dispatchIRQ maps bank bits to Lines).
type Line uint8

const (
	Timer1 Line = iota
	Timer3
	Usb
	Gpio0
	Gpio1
	Gpio2
	Gpio3
	Uart

	numLines
)

// Handler runs with mutable access to the trap frame of whichever Process
// was interrupted. The Timer1 handler, proc.Scheduler.HandleTick, uses it
// to save the interrupted Process and load the next one's state into it.
type Handler func(tf *trap.Frame)

var table [numLines]Handler

// Register installs the handler for line, replacing whatever was there
// before.
func Register(line Line, h Handler) {
	table[line] = h
}

// Invoke runs the handler installed for line, if any. Consulting a pending
// bit with no registered handler is not an error — it happens for interrupt
// sources this configuration never enables — so Invoke silently no-ops.
func Invoke(line Line, tf *trap.Frame) {
	if h := table[line]; h != nil {
		h(tf)
	}
}
