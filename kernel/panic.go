package kernel

import (
	"teaos/kernel/cpu"
	"teaos/kernel/kfmt/early"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU in a WFE loop, as required by spec.md §7 for fatal invariant
// violations. Calls to Panic never return; it also serves as the
// redirection target for calls to the built-in panic() via runtime.gopanic.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// PanicWithFault reports an unhandled EL1 synchronous exception together
// with the faulting ESR/FAR values, per spec.md §7, then halts.
func PanicWithFault(module string, esr, far uint64) {
	early.Printf("\n-----------------------------------\n")
	early.Printf("[%s] unhandled exception: ESR_EL1=0x%x FAR_EL1=0x%x\n", module, esr, far)
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
