// Command kernel is the loader-facing entry point. Grounded on the
// teacher's root-level boot.go/stub.go trampolines: a single, otherwise
// pointless-looking main() whose only job is to keep the compiler from
// discarding the real kernel code it calls into, since nothing in a
// freestanding build ever calls main() the way a hosted program's runtime
// would.
package main

import (
	"teaos/kernel"
	"teaos/kernel/boot"
	"teaos/kernel/init"
)

// bootInfoPtr is set by the entry assembly from x0 before main runs, the
// same role the teacher's multibootInfoPtr plays for multiboot's info
// pointer. A package variable rather than a parameter, again matching the
// teacher: it is what keeps the compiler from inlining main away.
var bootInfoPtr uintptr

// main rehydrates the handoff record the loader left behind and runs the
// kernel startup sequence, turning an error from KernelMain into a kernel
// panic.
func main() {
	bi := boot.FromFFIPointer(bootInfoPtr)
	if err := init.KernelMain(bi); err != nil {
		kernel.Panic(err)
	}
}
