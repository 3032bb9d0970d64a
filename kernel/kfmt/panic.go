package kfmt

import (
	"rpi3visor/kernel"
	"rpi3visor/kernel/board"
)

var (
	// resetFn is mocked by tests and is automatically inlined by the compiler.
	resetFn = board.Reset

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and resets the
// board. Calls to Panic never return. This is the hypervisor-fatal band of
// spec.md §7: a double-fault, a page-table invariant violation, VMID
// exhaustion or an unsupported translation granule at boot all end up here.
// Panic also works as a redirection target for calls to panic() (resolved
// via runtime.gopanic).
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** hypervisor panic: resetting board ***")
	Printf("\n-----------------------------------")

	resetFn()
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
