// Package board describes the fixed memory-mapped peripheral layout of a
// Raspberry Pi 3 (BCM2837). It contains nothing but register offsets and
// thin volatile accessors; servicing a peripheral (real or trapped) is the
// job of kernel/mmio and the driver code the hypervisor runs on behalf of
// itself (the Timer1 tick, the interrupt controller enable mask and the
// power-manager reset).
package board

import "unsafe"

const (
	// IOBase is the physical (and, since the hypervisor identity-maps
	// RAM and MMIO, virtual) base address of the BCM2837 peripheral
	// window.
	IOBase = 0x3F000000

	// IOBaseEnd is the first address past the peripheral window.
	IOBaseEnd = IOBase + 0x01000000
)

// Timer register offsets (BCM2835 ARM peripherals §12). CLO/CHI form a
// free-running 64-bit counter; each COMPARE register raises the
// correspondingly numbered interrupt when CLO reaches it.
const (
	TimerBase = IOBase + 0x3000

	TimerCS      = TimerBase + 0x00
	TimerCLO     = TimerBase + 0x04
	TimerCHI     = TimerBase + 0x08
	TimerCompare = TimerBase + 0x0C // TimerCompare + 4*n selects COMPARE[n]
)

// TimerCS match bits, one per COMPARE register; writing 1 clears the bit.
const (
	TimerMatch0 = 1 << 0
	TimerMatch1 = 1 << 1
	TimerMatch2 = 1 << 2
	TimerMatch3 = 1 << 3
)

// Interrupt controller register offsets (BCM2835 ARM peripherals §7).
const (
	InterruptBase = IOBase + 0xB200

	IRQBasicPending = InterruptBase + 0x00
	IRQPending1     = InterruptBase + 0x04
	IRQPending2     = InterruptBase + 0x08
	FIQControl      = InterruptBase + 0x0C
	EnableIRQs1     = InterruptBase + 0x10
	EnableIRQs2     = InterruptBase + 0x14
	EnableBasicIRQs = InterruptBase + 0x18
	DisableIRQs1    = InterruptBase + 0x1C
	DisableIRQs2    = InterruptBase + 0x20
	DisableBasicIRQs = InterruptBase + 0x24
)

// IRQ bit numbers within the pending/enable/disable register banks. Timer1
// and Timer3 are the ARM-visible system timer lines (Timer0/Timer2 are used
// by the GPU and are not routable to the ARM core); Usb and the Gpio bank
// live in IRQPending2/EnableIRQs2/DisableIRQs2; Uart is a basic IRQ.
const (
	IRQTimer1 = 1 // bit in IRQPending1 / EnableIRQs1 / DisableIRQs1
	IRQTimer3 = 3

	IRQUsb  = 9  // bit in IRQPending2 / EnableIRQs2 / DisableIRQs2 (bit 9 overall -> bit 41)
	IRQGpio0 = 17
	IRQGpio1 = 18
	IRQGpio2 = 19
	IRQGpio3 = 20

	IRQUart = 19 // bit in IRQBasicPending / EnableBasicIRQs / DisableBasicIRQs
)

// Power manager / watchdog register offsets (BCM2835 ARM peripherals §14).
const (
	PowerBase = IOBase + 0x10001C

	PMRSTC = PowerBase + 0x00
	PMWDOG = PowerBase + 0x04
)

// Power manager magic password and reset bits. Every write to PM_RSTC or
// PM_WDOG must OR in pmPassword in its top byte or the write is ignored by
// the firmware.
const (
	pmPassword  = 0x5A000000
	pmRSTCReset = 0x20
)

// Mini-UART register offsets (BCM2835 ARM peripherals §2.2). The console
// glue that actually drives these lines is an external collaborator (see
// spec.md §1); these offsets exist so kernel/mmio can trap-and-emulate guest
// accesses against them with the identical addresses real firmware uses.
const (
	UartBase = IOBase + 0x215040

	AuxMuIO    = UartBase + 0x00
	AuxMuIER   = UartBase + 0x04
	AuxMuIIR   = UartBase + 0x08
	AuxMuLCR   = UartBase + 0x0C
	AuxMuMCR   = UartBase + 0x10
	AuxMuLSR   = UartBase + 0x14
	AuxMuCntl  = UartBase + 0x20
	AuxMuBaud  = UartBase + 0x28
)

// Read8/16/32/64 and Write8/16/32/64 perform a volatile access of the given
// width at the given physical/virtual address. They are used both by the
// hypervisor's own peripheral use (Timer1 tick, interrupt enable mask, power
// manager reset) and by kernel/mmio when it replays a guest's load/store
// against the real device.

func Read8(addr uintptr) uint8   { return *(*uint8)(unsafe.Pointer(addr)) }
func Read16(addr uintptr) uint16 { return *(*uint16)(unsafe.Pointer(addr)) }
func Read32(addr uintptr) uint32 { return *(*uint32)(unsafe.Pointer(addr)) }
func Read64(addr uintptr) uint64 { return *(*uint64)(unsafe.Pointer(addr)) }

func Write8(addr uintptr, v uint8)   { *(*uint8)(unsafe.Pointer(addr)) = v }
func Write16(addr uintptr, v uint16) { *(*uint16)(unsafe.Pointer(addr)) = v }
func Write32(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }
func Write64(addr uintptr, v uint64) { *(*uint64)(unsafe.Pointer(addr)) = v }

// resetFn is a function var so tests can intercept a reset without actually
// rebooting the board it runs on; it is mocked by tests and automatically
// inlined by the compiler.
var resetFn = hardReset

// Reset asserts the watchdog-based full system reset. Unlike a desktop OS,
// the hypervisor has no underlying firmware to fall back on once it decides
// execution cannot continue safely (see spec.md §7 band 3): it must reset
// the board itself.
func Reset() {
	resetFn()
}

func hardReset() {
	// A one-tick watchdog timeout triggers an immediate reset once PM_RSTC
	// is armed with the reset bit and the magic password.
	Write32(PMWDOG, pmPassword|1)
	Write32(PMRSTC, pmPassword|pmRSTCReset)
	for {
	}
}
