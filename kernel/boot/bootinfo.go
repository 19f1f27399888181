// Package boot implements the FFI-stable handoff record the boot loader
// builds and the kernel rehydrates, per spec.md §3 and §6. Grounded on the
// teacher's kernel/hal/multiboot package, which plays the same "parse what
// the loader left behind into a typed Go value" role for a multiboot info
// struct; generalized from multiboot's tag-stream format to a fixed-layout
// C struct passed by value/pointer across the UEFI→kernel boundary, since
// this core defines its own handoff contract rather than reusing an
// existing one.
package boot

import (
	"unsafe"

	"teaos/kernel/mem"
)

// BlockType classifies a MemoryBlock, mirroring BootInfoFFI's memory type
// enum (spec.md §6).
type BlockType uint32

const (
	BlockUnused BlockType = iota
	BlockBoot
	BlockAcpi
	BlockMmio
	BlockKernel
)

// MemoryBlock is one entry of the handoff memory map: a contiguous,
// page-aligned run of physical memory of a single BlockType.
type MemoryBlock struct {
	Type  BlockType
	Start mem.PA
	Pages uint64
}

// End returns the address one past the last byte of the block.
func (b MemoryBlock) End() mem.PA {
	return b.Start.Add(b.Pages * uint64(mem.PageSize))
}

// UartKind mirrors the tag of BootInfoFFI's Uart union.
type UartKind uint8

const (
	UartPl011 UartKind = iota
	UartUart16550
)

// Uart describes the console device the loader discovered (via ACPI SPCR,
// see SPEC_FULL.md's DOMAIN STACK) or was told about.
type Uart struct {
	Kind UartKind
	Base mem.PA
}

// BootInfo is the kernel-side, Go-native form of the handoff record. Its
// wire form is bootInfoFFI/memoryBlockFFI, defined below in this file;
// FromFFI converts one back into this shape for kernel_main to consume.
type BootInfo struct {
	Memory    []MemoryBlock
	Uart      Uart
	AcpiRSDP  mem.PA
}

// memoryBlockFFI is the C-ABI layout of one MemoryBlock, matching
// BootInfoFFI's `MemoryBlock` struct in spec.md §6 field-for-field:
// `{u32 type; u8 _pad[4]; PA start; usize pages;}`.
type memoryBlockFFI struct {
	blockType uint32
	_pad      uint32
	start     uint64
	pages     uint64
}

// uartFFI is the 16-byte tagged union BootInfoFFI.Uart: a one-byte tag
// followed by the device's physical base address, padded to 16 bytes to
// match the C union's alignment.
type uartFFI struct {
	tag  uint8
	_pad [7]byte
	base uint64
}

// bootInfoFFI is the fixed-order struct passed by value across the
// UEFI→kernel boundary, matching spec.md §6's BootInfoFFI exactly:
//
//	struct BootInfoFFI {
//	  struct { const MemoryBlock* ptr; usize len; } memory;
//	  Uart uart;
//	  PA   acpi_rsdp;
//	}
type bootInfoFFI struct {
	memoryPtr uintptr
	memoryLen uint64
	uart      uartFFI
	acpiRSDP  uint64
}

// ToFFI converts bi into the fixed-layout struct the loader places at a
// known address (or passes by register per the AArch64 PCS) for _start to
// read. blocks must stay alive (and unmoved) for as long as the returned
// value's memoryPtr is dereferenced; the loader leaks the backing array
// intentionally, per spec.md §4.H.
func ToFFI(bi BootInfo) (bootInfoFFI, []memoryBlockFFI) {
	raw := make([]memoryBlockFFI, len(bi.Memory))
	for i, b := range bi.Memory {
		raw[i] = memoryBlockFFI{
			blockType: uint32(b.Type),
			start:     uint64(b.Start),
			pages:     b.Pages,
		}
	}

	var ptr uintptr
	if len(raw) > 0 {
		ptr = uintptr(unsafe.Pointer(&raw[0]))
	}

	ffi := bootInfoFFI{
		memoryPtr: ptr,
		memoryLen: uint64(len(raw)),
		uart:      uartFFI{tag: uint8(bi.Uart.Kind), base: uint64(bi.Uart.Base)},
		acpiRSDP:  uint64(bi.AcpiRSDP),
	}
	return ffi, raw
}

// FromFFI rematerializes a BootInfo from the fixed-layout struct the loader
// handed off, copying every field the kernel retains out of the leaked
// memory block slice before that memory is reclaimed by a later pmm.Seed.
func FromFFI(ffi bootInfoFFI) BootInfo {
	blocks := make([]MemoryBlock, ffi.memoryLen)
	if ffi.memoryLen > 0 {
		raw := (*[1 << 30]memoryBlockFFI)(unsafe.Pointer(ffi.memoryPtr))[:ffi.memoryLen:ffi.memoryLen]
		for i, r := range raw {
			blocks[i] = MemoryBlock{
				Type:  BlockType(r.blockType),
				Start: mem.NewPA(r.start),
				Pages: r.pages,
			}
		}
	}

	return BootInfo{
		Memory:   blocks,
		Uart:     Uart{Kind: UartKind(ffi.uart.tag), Base: mem.NewPA(ffi.uart.base)},
		AcpiRSDP: mem.NewPA(ffi.acpiRSDP),
	}
}

// FromFFIPointer rehydrates a BootInfo from a pointer to a bootInfoFFI
// struct, the form the loader actually hands the kernel: BootInfoFFI is
// larger than the AAPCS64 16-byte by-value threshold, so the loader passes
// its address in x0 rather than the struct itself.
func FromFFIPointer(ptr uintptr) BootInfo {
	return FromFFI(*(*bootInfoFFI)(unsafe.Pointer(ptr)))
}

// MergeAdjacent sorts blocks by start address and merges consecutive runs
// of the same BlockType whose ranges touch, per spec.md §3: "Consecutive
// blocks of the same type with touching ranges are merged on construction."
// Sorting is a simple insertion sort: loader-provided memory maps are at
// most a few dozen entries, so an O(n^2) sort trades asymptotic elegance
// for avoiding an import of "sort" this close to boot (see DESIGN.md).
func MergeAdjacent(blocks []MemoryBlock) []MemoryBlock {
	sorted := append([]MemoryBlock(nil), blocks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Start > sorted[j].Start; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	merged := sorted[:0]
	for _, b := range sorted {
		if n := len(merged); n > 0 && merged[n-1].Type == b.Type && merged[n-1].End() == b.Start {
			merged[n-1].Pages += b.Pages
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

// Regions returns the pmm.Region slice (see kernel/mem/pmm) covering every
// block of typ in bi.Memory, for seeding the physical allocator from either
// the Unused or the Boot blocks per spec.md §4.J's two-stage seed.
func (bi BootInfo) Regions(typ BlockType) []Region {
	var out []Region
	for _, b := range bi.Memory {
		if b.Type != typ {
			continue
		}
		out = append(out, Region{Start: b.Start, End: b.End()})
	}
	return out
}

// Region mirrors pmm.Region's shape without importing the pmm package
// (which would create an import cycle: pmm needs nothing from boot, but
// keeping boot dependency-free of mem/pmm lets it be imported by the loader
// side too, which never touches pmm directly). kernel_main converts these
// 1:1 into pmm.Region values when calling pmm.Seed.
type Region struct {
	Start mem.PA
	End   mem.PA
}
