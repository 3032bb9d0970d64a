// Package alloc implements the hypervisor's page allocator: a size-classed
// segregated free-list allocator over a single contiguous backing region,
// carved from a top chunk on first touch and coalesced on free. It is the
// sole source of the 64 KiB pages that back every stage-1 and stage-2 page
// table and every guest page.
package alloc

import (
	"math/bits"
	"unsafe"

	"rpi3visor/kernel"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/sync"
)

// NumBins is the number of size classes. Bin k holds free chunks of exactly
// 2^(k+3) bytes, from 8 B (bin 0) up to 4 GiB (bin 29).
const NumBins = 30

const minBinShift = 3

var (
	errZeroSizeAlloc = &kernel.Error{Module: "alloc", Message: "alloc: size must be non-zero"}
	errMisaligned    = &kernel.Error{Module: "alloc", Message: "dealloc: pointer is not 8-byte aligned"}
	errNotInitialized = &kernel.Error{Module: "alloc", Message: "allocator used before Initialize"}
	errAlreadyInit    = &kernel.Error{Module: "alloc", Message: "allocator already initialized"}
)

// Pool is the hypervisor's single page allocator, guarded by its own Mutex
// per spec.md §5.
var Pool Allocator

// Allocator is a size-classed segregated free-list allocator over
// [regionStart, topEnd). Chunks are tracked as singly-linked lists threaded
// through the first 8 bytes of each free chunk; there is no separate
// metadata region.
type Allocator struct {
	mu sync.Mutex

	initialized bool

	regionStart uintptr
	topStart    uintptr
	topEnd      uintptr

	bins [NumBins]uintptr
}

// Initialize configures the allocator to serve allocations out of
// [start, start+size). It may be called exactly once; subsequent calls
// return errAlreadyInit.
func (a *Allocator) Initialize(start uintptr, size mem.Size) *kernel.Error {
	var err *kernel.Error

	a.mu.WithLock(func() {
		if a.initialized {
			err = errAlreadyInit
			return
		}

		a.regionStart = start
		a.topStart = start
		a.topEnd = start + uintptr(size)
		a.initialized = true
	})

	return err
}

// sizeToBin returns the smallest bin k such that 2^(k+3) >= n. It panics if
// n is zero.
func sizeToBin(n uint64) int {
	if n == 0 {
		panic(errZeroSizeAlloc)
	}

	k := (32 - minBinShift) - bits.LeadingZeros32(uint32(n-1))
	if k < 0 {
		k = 0
	}
	return k
}

// binToSize returns the exact chunk size, in bytes, for bin k.
func binToSize(k int) uint64 {
	return uint64(1) << (uint(k) + minBinShift)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc reserves size bytes aligned to at least align (which is clamped up
// to 8 so any sliver left over can always re-enter a bin) and returns a
// pointer to the reservation, or nil if the region is exhausted.
func (a *Allocator) Alloc(size mem.Size, align mem.Size) unsafe.Pointer {
	a.mustBeInitialized()

	if size == 0 {
		panic(errZeroSizeAlloc)
	}

	al := uint64(align)
	if al < 8 {
		al = 8
	}

	var result uintptr
	a.mu.WithLock(func() {
		result = a.allocLocked(uint64(size), al)
	})

	if result == 0 {
		return nil
	}
	return unsafe.Pointer(result)
}

func (a *Allocator) allocLocked(size, align uint64) uintptr {
	bin := sizeToBin(size)

	for b := bin; b < NumBins; b++ {
		if addr, ok := a.popAligned(b, align); ok {
			leftover := binToSize(b) - binToSize(bin)
			if leftover > 0 {
				a.rebin(addr+uintptr(binToSize(bin)), leftover)
			}
			return addr
		}
	}

	newTop := alignUp(uint64(a.topStart), align)
	gap := newTop - uint64(a.topStart)
	if gap > 0 {
		a.rebin(a.topStart, gap)
	}
	a.topStart = uintptr(newTop)

	want := binToSize(bin)
	if uint64(a.topStart)+want > uint64(a.topEnd) {
		// Roll the gap carve-out back into the top boundary bookkeeping
		// is unnecessary: the gap chunks were already re-binned and
		// remain valid, reusable free chunks even though this
		// particular request failed.
		return 0
	}

	result := a.topStart
	a.topStart += uintptr(want)
	return result
}

// popAligned removes and returns the first chunk in bin b whose address
// satisfies align, if any.
func (a *Allocator) popAligned(b int, align uint64) (uintptr, bool) {
	var prev uintptr
	node := a.bins[b]

	for node != 0 {
		next := *(*uintptr)(unsafe.Pointer(node))
		if uint64(node)%align == 0 {
			if prev == 0 {
				a.bins[b] = next
			} else {
				*(*uintptr)(unsafe.Pointer(prev)) = next
			}
			return node, true
		}
		prev = node
		node = next
	}

	return 0, false
}

// rebin splits an arbitrary region of size bytes (a multiple of 8, starting
// at addr) into power-of-two chunks by walking the bits of size>>3 from LSB
// to MSB, pushing one chunk per set bit into the corresponding bin.
func (a *Allocator) rebin(addr uintptr, size uint64) {
	offset := uint64(0)
	units := size >> minBinShift

	for bin := 0; units != 0; bin, units = bin+1, units>>1 {
		if units&1 != 0 {
			a.pushFree(bin, addr+uintptr(offset))
			offset += binToSize(bin)
		}
	}
}

func (a *Allocator) pushFree(bin int, addr uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = a.bins[bin]
	a.bins[bin] = addr
}

// Dealloc returns a size-byte allocation previously returned by Alloc back
// to the allocator, coalescing it with the top chunk or a buddy-adjacent
// free chunk where possible. Dealloc of a nil pointer or a zero size is a
// no-op; an addr not 8-byte aligned panics.
func (a *Allocator) Dealloc(ptr unsafe.Pointer, size mem.Size) {
	a.mustBeInitialized()

	if ptr == nil || size == 0 {
		return
	}

	addr := uintptr(ptr)
	if addr%8 != 0 {
		panic(errMisaligned)
	}

	a.mu.WithLock(func() {
		a.freeLocked(addr, sizeToBin(uint64(size)))
	})
}

func (a *Allocator) freeLocked(addr uintptr, bin int) {
	size := binToSize(bin)

	if addr+uintptr(size) == a.topStart {
		a.topStart = addr
		return
	}

	if prev, node, ok := a.findBuddy(bin, addr, uintptr(size)); ok {
		a.unlink(bin, prev, node)

		merged := addr
		if node < addr {
			merged = node
		}

		if bin+1 < NumBins {
			a.freeLocked(merged, bin+1)
		} else {
			// bin 29 already represents the largest size class
			// (4 GiB); there is nowhere further to coalesce, so
			// leave the neighbor pushed back as two free chunks.
			a.pushFree(bin, node)
			a.pushFree(bin, addr)
		}
		return
	}

	a.pushFree(bin, addr)
}

// findBuddy scans bin b for a chunk immediately adjacent to [addr, addr+size),
// either as addr's right neighbor (node == addr+size) or left neighbor
// (node+size == addr).
func (a *Allocator) findBuddy(b int, addr, size uintptr) (prev uintptr, node uintptr, ok bool) {
	node = a.bins[b]
	for node != 0 {
		if node == addr+size || node+size == addr {
			return prev, node, true
		}
		prev = node
		node = *(*uintptr)(unsafe.Pointer(node))
	}
	return 0, 0, false
}

func (a *Allocator) unlink(bin int, prev, node uintptr) {
	next := *(*uintptr)(unsafe.Pointer(node))
	if prev == 0 {
		a.bins[bin] = next
	} else {
		*(*uintptr)(unsafe.Pointer(prev)) = next
	}
}

func (a *Allocator) mustBeInitialized() {
	if !a.initialized {
		panic(errNotInitialized)
	}
}
