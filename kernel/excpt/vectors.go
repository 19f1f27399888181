package excpt

import "teaos/kernel/cpu"

// vectorTableBase is implemented in vectors_arm64.s: the address of the
// 2KiB-aligned, 16-entry EL1 vector table.
func vectorTableBase() uintptr

// writeVBAREL1Fn is mocked by tests and automatically inlined by the
// compiler in production builds.
var writeVBAREL1Fn = cpu.WriteVBAREL1

// Init installs the EL1 exception vector table, per spec.md §4.I. Must run
// before any BRK, SVC, or fault can occur; kernel_main calls it early,
// right after the UART logger is wired up, so a fault during page-table
// bring-up still gets reported instead of landing on whatever VBAR_EL1
// happened to contain at reset.
func Init() {
	writeVBAREL1Fn(uint64(vectorTableBase()))
}

// dispatchFromAsm is the single Go entry point every one of the 16 vector
// stubs branches to after saving Regs/Frame to the current stack.
// vectors_arm64.s is in the same package, so it references the unexported
// ·dispatchFromAsm(SB) directly, without a linkname.
//
//go:nosplit
func dispatchFromAsm(regs *Regs, frame *Frame) {
	dispatch(regs, frame)
}
