package kernel

import (
	"reflect"
	"unsafe"
)

// Memset zeroes (or fills) size bytes starting at addr. guest.AddressSpace.Alloc
// is its one caller: every stage-2 page a guest first touches gets zeroed
// here before the IPA is mapped to it, so a page the hypervisor or a prior
// guest once used never leaks its contents across the stage-2 boundary. The
// implementation doubles the filled region on each pass instead of looping
// byte-by-byte, since addr is always at least page-aligned here and the
// whole point is to get a freshly allocated page zeroed before a guest can
// fault on it again.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	// overlay a slice on top of this address region
	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
