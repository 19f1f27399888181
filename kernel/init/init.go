// Package init sequences kernel_main, the function the loader's entry
// thunk branches into once BootInfo is sitting in x0 and TTBR1_EL1 already
// points at the loader's kernel page map (spec.md §4.J). Grounded on the
// teacher's kernel/kernel.go Init sequence, generalized from "initialize a
// handful of x86 subsystems in order" to this core's own dependency chain:
// MAIR before any mapping, a first pmm seed before the kernel can steal its
// own page tables, the kernel heap before anything that allocates, and the
// exception vectors before anything that can fault.
package init

import (
	"teaos/kernel"
	"teaos/kernel/boot"
	"teaos/kernel/cpu"
	"teaos/kernel/driver/uart"
	"teaos/kernel/excpt"
	"teaos/kernel/kfmt/early"
	"teaos/kernel/mem"
	"teaos/kernel/mem/heap"
	"teaos/kernel/mem/pmm"
	"teaos/kernel/mem/vmm"
)

// readTTBR1Fn is a var-of-func seam over cpu.ReadTTBR1EL1; no test in this
// package replaces it, since KernelMain is not run under test.
var readTTBR1Fn = cpu.ReadTTBR1EL1

// toPMMRegions adapts boot.Region (the handoff package's own, dependency-
// free region type) to pmm.Region so Seed never has to import boot.
func toPMMRegions(regions []boot.Region) []pmm.Region {
	out := make([]pmm.Region, len(regions))
	for i, r := range regions {
		out[i] = pmm.Region{Start: r.Start, End: r.End}
	}
	return out
}

// consoleWriter builds the polling UART writer named by bi.Uart, addressed
// by its physical address, which resolves through the firmware's TTBR0
// identity map that is still live when kernel_main starts; the physmap
// (PhysmapStart) is not used here.
func consoleWriter(u boot.Uart) uart.Writer {
	switch u.Kind {
	case boot.UartUart16550:
		return uart.NewUart16550(uintptr(u.Base.Addr()))
	default:
		return uart.NewPl011(uintptr(u.Base.Addr()))
	}
}

// KernelMain brings every subsystem in SPEC_FULL.md online in the order
// spec.md §4.J requires, then returns nil, or the first error a step
// reports. It writes real system registers, so no test runs it (see
// init_test.go).
func KernelMain(bi boot.BootInfo) *kernel.Error {
	early.SetOutput(consoleWriter(bi.Uart))
	early.Printf("[init] teaos starting\n")

	// Vectors go in before anything that can fault, including the page-table
	// bring-up below: a bad store during BootstrapKernelMap now reports
	// through the exception core instead of running off the reset VBAR_EL1.
	excpt.Init()

	vmm.InitMAIR()

	// First seed: only the regions the loader reported as free RAM. The
	// loader's own tables, the kernel image, and ACPI/MMIO blocks are not
	// included yet, since BootstrapKernelMap is about to walk and reuse
	// exactly those frames; folding them into the freelist first would let
	// the allocator hand one of them out from underneath the clone.
	pmm.Seed(toPMMRegions(bi.Regions(boot.BlockUnused)))

	bootPM := vmm.FromTTBR1Base(mem.NewPA(readTTBR1Fn()))
	kernelMap, err := vmm.BootstrapKernelMap(bootPM)
	if err != nil {
		return err
	}

	// Second seed: the loader's boot-time scratch allocations (its own page
	// tables among them) are no longer needed now that the kernel owns its
	// own cloned tree, so fold them into the freelist too.
	pmm.Seed(toPMMRegions(bi.Regions(boot.BlockBoot)))

	heap.SetGrowFunc(kernelMap.GrowHeap)
	kernelHeap, err := heap.New(mem.KHeapStart, mem.KHeapSize)
	if err != nil {
		return err
	}
	excpt.SetHeap(kernelHeap)

	early.Printf("[init] teaos ready\n")
	return nil
}
