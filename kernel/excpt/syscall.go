package excpt

import (
	"unicode/utf8"
	"unsafe"

	"teaos/kernel/kfmt/early"
	"teaos/kernel/mem"
	"teaos/kernel/mem/heap"
)

// sysPrint is syscall number 0: write a user-supplied UTF-8 buffer to the
// console. The only syscall this core implements, per spec.md §4.I.
const sysPrint = 0

// kernelHeap stages syscall arguments copied in from user space; no kernel
// pointer is ever aliased with a user one, per spec.md §4.I, so every
// syscall argument buffer is copied through here rather than read in place.
var kernelHeap *heap.Allocator

// SetHeap installs the kernel heap allocator syscalls stage copies through.
// Called once by kernel_main after heap.New has run.
func SetHeap(h *heap.Allocator) {
	kernelHeap = h
}

// handleSyscall dispatches on the SVC number, the low 16 bits of ESR_EL1's
// ISS field.
func handleSyscall(esr uint64, regs *Regs, frame *Frame) {
	switch esr & 0xffff {
	case sysPrint:
		sysPrintImpl(regs)
	default:
		panicFaultFn("excpt", esr, 0)
	}
}

// sysPrintImpl implements sysPrint: x0 is the user pointer, x1 the length.
// ptr+len must fall entirely below KImageStart (the start of the kernel's
// own higher half) or the call is rejected; the buffer is copied into a
// fresh kernel heap allocation, validated as UTF-8, and only then emitted.
func sysPrintImpl(regs *Regs) {
	const errResult = ^uint64(0)

	ptr, length := regs.X0, regs.X1
	if length == 0 {
		regs.X0 = 0
		return
	}
	if ptr+length < ptr || ptr+length >= uint64(mem.KImageStart) {
		regs.X0 = errResult
		return
	}

	raw, err := kernelHeap.Alloc(mem.Size(length))
	if err != nil {
		regs.X0 = errResult
		return
	}
	defer kernelHeap.Free(raw)

	dst := unsafe.Slice((*byte)(raw), length)
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	copy(dst, src)

	if !utf8.Valid(dst) {
		regs.X0 = errResult
		return
	}

	early.Printf("%s", dst)
	regs.X0 = 0
}
