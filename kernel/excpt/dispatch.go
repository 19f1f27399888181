package excpt

import (
	"teaos/kernel"
	"teaos/kernel/cpu"
)

// EC values this dispatcher recognizes, from ESR_EL1 bits [31:26].
const (
	ecBRK   = 0x3c
	ecSVC64 = 0x15
)

// readESREL1Fn/readFAREL1Fn are mocked by tests and automatically inlined by
// the compiler in production builds.
var (
	readESREL1Fn = cpu.ReadESREL1
	readFAREL1Fn = cpu.ReadFAREL1
	panicFaultFn = kernel.PanicWithFault
)

// spsrM mask/values for SPSR_EL1.M[3:2]: 0 means the exception was taken
// from EL0, any other value means it was taken from EL1 (this core never
// runs at EL2/EL3).
const spsrELMask = 0xc

// fromEL0 reports whether frame describes an exception taken while running
// at EL0, derived from SPSR_EL1 rather than from which of the 16 vector
// slots branched to dispatch, since every slot calls the same entry point.
func fromEL0(frame *Frame) bool {
	return frame.SPSR&spsrELMask == 0
}

// dispatch is called by the common vector stub (vectors_arm64.s) for every
// exception source and kind. Interrupts are never enabled in this core (see
// spec.md §5), so in practice only the two synchronous-exception slots
// (EL1h and lower-EL AArch64) are ever reached with a meaningful ESR_EL1.
//
//go:nosplit
func dispatch(regs *Regs, frame *Frame) {
	esr := readESREL1Fn()
	ec := (esr >> 26) & 0x3f

	if ec == ecBRK {
		// Advance past the BRK instruction and resume, whichever EL it was
		// taken from; BRK is used as a breakpoint/assertion trap, not a
		// fatal condition.
		frame.ELR += 4
		return
	}
	if ec == ecSVC64 && fromEL0(frame) {
		handleSyscall(esr, regs, frame)
		return
	}

	panicFaultFn("excpt", esr, readFAREL1Fn())
}
