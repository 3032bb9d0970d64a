package exception

import (
	"rpi3visor/kernel/board"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/mem/pt"
	"rpi3visor/kernel/mmio"
	"rpi3visor/kernel/trap"
)

// ipaFromHPFAR recovers the faulting intermediate physical address from
// HPFAR_EL2, which always expresses it in 4 KiB units regardless of the
// translation granule actually in use (spec.md §4.7).
func ipaFromHPFAR(hpfar uintptr) uintptr {
	return (hpfar >> 4) << 12
}

func pageAlign(ipa uintptr) uintptr {
	return ipa &^ (uintptr(mem.PageSize) - 1)
}

// faultIPA picks the faulting IPA to act on. FAR_EL2 (far) is precise;
// HPFAR_EL2 only ever reports the IPA 4 KiB-aligned, which is wrong for any
// MMIO register not at its containing page's base. far is only untrustworthy
// when the ISS says so (spec.md §4.7).
func faultIPA(s Syndrome, far, hpfar uintptr) uintptr {
	if s.FnV {
		return ipaFromHPFAR(hpfar)
	}
	return far
}

// handleStage2Fault is reached for every synchronous trap taken from the
// guest; only Class == DataAbort or InstructionAbort traps can match a
// recoverable policy, and any other class ends in the fatal path. It implements
// the two stage-2 fault policies spec.md §4.7 and §4.8 describe: lazily
// backing an unpopulated guest page on first touch, and replaying an MMIO
// access against the real peripheral the IPA aliases. Anything else is
// fatal — a guest touching an IPA outside its declared RAM, or a fault the
// hardware could not fully decode (ISV clear, or a cache-maintenance
// abort), has no defined recovery and is surfaced to the operator rather
// than silently papered over.
func handleStage2Fault(s Syndrome, far, hpfar uintptr, tf *trap.Frame, as *guest.AddressSpace) {
	ipa := faultIPA(s, far, hpfar)

	if isLazyPagingFault(s, ipa) {
		aligned := pageAlign(ipa)
		if _, valid := as.Table().Lookup(aligned); !valid {
			as.Alloc(aligned, pt.S2ReadWrite)
		}
		return
	}

	if isMMIOFault(s, ipa) {
		da := s.DataAbort
		if err := mmio.Emulate(ipa, mmio.Size(da.SAS), da.SSE, da.SRT, da.SF, da.WnR, tf); err != nil {
			fatal(tf, err.Message)
		}
		return
	}

	fatal(tf, "unhandled stage-2 fault")
}

func isLazyPagingFault(s Syndrome, ipa uintptr) bool {
	return (s.Fault == Translation || s.Fault == AccessFlag) && ipa < mem.GuestMaxVMSize
}

func isMMIOFault(s Syndrome, ipa uintptr) bool {
	if s.Class != DataAbort || s.Fault != Translation {
		return false
	}
	if ipa < board.IOBase || ipa >= board.IOBaseEnd {
		return false
	}
	da := s.DataAbort
	return da.ISV && !da.CM
}
