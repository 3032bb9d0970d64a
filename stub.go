package main

import (
	"rpi3visor/kernel/image"
	"rpi3visor/kernel/kmain"
)

var (
	heapEnd    uintptr
	guestImage image.Reader
)

// main is a trampoline into the real kernel entrypoint, kmain.Kmain. The
// reset stub that actually boots this hypervisor on hardware calls
// kmain.Kmain directly with the real heap bound and guest image reader;
// main exists only so `go build`/`go vet` see Kmain referenced from package
// main and do not dead-code-eliminate it, the same role stub.go plays in
// gopher-os. heapEnd and guestImage are package-level variables, rather
// than literals, for the same reason gopher-os passes multibootInfoPtr as a
// variable: it keeps the compiler from inlining this call away entirely.
func main() {
	kmain.Kmain(heapEnd, guestImage)
}
