// Package excpt installs the AArch64 EL1 exception vector table and
// dispatches synchronous exceptions from both EL1 and EL0, per spec.md
// §4.I. Grounded on the teacher's kernel/irq package (src/gopheros variant):
// the same ExceptionHandler/Frame/Regs shape and HandleException registry
// idiom, generalized from x86's IDT-with-256-vectors model to ARMv8-A's
// fixed 16-entry (4 sources x 4 kinds), VBAR_EL1-relative vector table.
package excpt

import "teaos/kernel/kfmt/early"

// Regs holds the general-purpose registers the vector stub saves before
// calling into Go: x0-x18 (the caller-saved set plus the platform register)
// and the link register x30. x19-x29 are callee-saved by the Go calling
// convention of the dispatcher itself and need not be preserved here.
type Regs struct {
	X0, X1, X2, X3, X4, X5, X6, X7, X8, X9       uint64
	X10, X11, X12, X13, X14, X15, X16, X17, X18 uint64
	X30                                          uint64
}

// Print outputs a dump of the register values to the active console.
func (r *Regs) Print() {
	early.Printf("X0  = %16x X1  = %16x\n", r.X0, r.X1)
	early.Printf("X2  = %16x X3  = %16x\n", r.X2, r.X3)
	early.Printf("X4  = %16x X5  = %16x\n", r.X4, r.X5)
	early.Printf("X6  = %16x X7  = %16x\n", r.X6, r.X7)
	early.Printf("X8  = %16x X9  = %16x\n", r.X8, r.X9)
	early.Printf("X10 = %16x X11 = %16x\n", r.X10, r.X11)
	early.Printf("X12 = %16x X13 = %16x\n", r.X12, r.X13)
	early.Printf("X14 = %16x X15 = %16x\n", r.X14, r.X15)
	early.Printf("X16 = %16x X17 = %16x\n", r.X16, r.X17)
	early.Printf("X18 = %16x X30 = %16x\n", r.X18, r.X30)
}

// Frame describes the processor state the CPU leaves behind at exception
// entry, saved by the vector stub before it calls the dispatcher.
type Frame struct {
	SPSR uint64
	ELR  uint64
}

// Print outputs a dump of the exception frame to the active console.
func (f *Frame) Print() {
	early.Printf("SPSR = %16x ELR = %16x\n", f.SPSR, f.ELR)
}
