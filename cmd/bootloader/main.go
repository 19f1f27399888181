// Command bootloader is the UEFI application spec.md §4.G describes: it
// reads \kernel and \userimg off the boot volume and assembles the BootInfo
// the kernel expects. Building the TTBR1 page map and the handoff itself are
// not implemented in this package. Grounded on the teacher's
// root boot.go trampoline for the same "keep the compiler honest about what
// actually gets called" shape, generalized from a bare `kernel.Kmain()` call
// to the multi-step pipeline a UEFI loader needs.
//
// This package models the pipeline's data plumbing (volume → ELF → ACPI →
// BootInfo); it deliberately does not model the UEFI protocol tables
// themselves (system table, boot services, GetMemoryMap/ExitBootServices) as
// Go structs, since no library in the retrieval pack speaks UEFI and
// fabricating one from nothing would mean guessing at an ABI this module can
// never verify against a real firmware build. efiEntry is the seam a real
// target's runtime support would fill in; everything past it is ordinary,
// testable Go.
package main

import (
	"teaos/cmd/bootloader/bootvol"
	"teaos/cmd/bootloader/elf"
	"teaos/internal/acpi"
	"teaos/kernel"
	"teaos/kernel/boot"
	"teaos/kernel/mem"
)

// efiEntry is overridden by the real UEFI entry thunk (system table pointer,
// image handle) in a production build; buildBootInfo never touches it
// directly, so it stays out of the pipeline's own signature.
var efiEntry uintptr

// buildBootInfo runs the read/parse/merge portion of spec.md §4.G's
// pipeline: open the boot volume, read both ELF images, locate the console
// UART via ACPI, and assemble the BootInfo the page-mapping step (not shown
// here; see kernel/mem/vmm.BootstrapKernelMap for the kernel-side half of
// the same contract) and the kernel entry both need.
//
// memRegions is the UEFI memory map already classified into boot.MemoryBlock
// entries by the caller (GetMemoryMap's descriptor walk, which this package
// does not model — see the package doc).
func buildBootInfo(vol *bootvol.Volume, rsdp uint64, memRegions []boot.MemoryBlock) (boot.BootInfo, elf.Image, elf.Image, *kernel.Error) {
	// Guards the loader's own build against linking a boot package whose
	// BootInfoFFI layout moved out from under boot.FormatVersion's promise;
	// CheckFormatVersion's other caller is whatever future loader build
	// reads a kernel-embedded version symbol instead of trusting its own.
	if verr := boot.CheckFormatVersion(boot.FormatVersion); verr != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, verr
	}

	kernelRaw, err := vol.ReadFile("KERNEL")
	if err != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, err
	}
	kernelImg, perr := elf.Parse(kernelRaw)
	if perr != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, perr
	}

	userRaw, err := vol.ReadFile("USERIMG")
	if err != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, err
	}
	userImg, perr := elf.Parse(userRaw)
	if perr != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, perr
	}

	xsdtAddr, verr := acpi.ValidateRSDP(rsdp)
	if verr != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, verr
	}
	spcr, serr := acpi.FindSPCR(xsdtAddr)
	if serr != nil {
		return boot.BootInfo{}, elf.Image{}, elf.Image{}, serr
	}

	uartKind := boot.UartPl011
	if spcr.InterfaceType != 0x03 {
		uartKind = boot.UartUart16550
	}

	bi := boot.BootInfo{
		Memory:   boot.MergeAdjacent(memRegions),
		Uart:     boot.Uart{Kind: uartKind, Base: mem.NewPA(spcr.BaseAddress)},
		AcpiRSDP: mem.NewPA(rsdp),
	}
	return bi, kernelImg, userImg, nil
}

// main is the trampoline the UEFI entry thunk calls into once the loader's
// own runtime support has set efiEntry; it exists only to keep the compiler
// from discarding buildBootInfo's call graph, the same role the teacher's
// boot.go plays for kernel.Kmain.
func main() {
	_ = efiEntry
}
