package boot

import (
	"testing"

	"teaos/kernel/mem"
)

func block(typ BlockType, startPA, pages uint64) MemoryBlock {
	return MemoryBlock{Type: typ, Start: mem.NewPA(startPA), Pages: pages}
}

func TestMergeAdjacentCombinesTouchingSameTypeRuns(t *testing.T) {
	in := []MemoryBlock{
		block(BlockUnused, 0x3000, 1),
		block(BlockUnused, 0x1000, 1),
		block(BlockUnused, 0x2000, 1),
		block(BlockKernel, 0x4000, 2),
	}

	got := MergeAdjacent(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 merged blocks; got %d: %+v", len(got), got)
	}
	if got[0].Type != BlockUnused || got[0].Start != mem.NewPA(0x1000) || got[0].Pages != 3 {
		t.Fatalf("expected one 3-page unused run from 0x1000; got %+v", got[0])
	}
	if got[1].Type != BlockKernel || got[1].Start != mem.NewPA(0x4000) || got[1].Pages != 2 {
		t.Fatalf("expected kernel block unchanged; got %+v", got[1])
	}
}

func TestMergeAdjacentDoesNotMergeDifferentTypesOrGaps(t *testing.T) {
	in := []MemoryBlock{
		block(BlockUnused, 0x1000, 1),
		block(BlockKernel, 0x2000, 1),
		block(BlockUnused, 0x4000, 1), // gap at 0x3000
	}
	got := MergeAdjacent(in)
	if len(got) != 3 {
		t.Fatalf("expected no merging across type/gap boundaries; got %d: %+v", len(got), got)
	}
}

func TestToFFIRoundTrip(t *testing.T) {
	bi := BootInfo{
		Memory: []MemoryBlock{
			block(BlockUnused, 0x10000, 4),
			block(BlockKernel, 0x20000, 1),
		},
		Uart:     Uart{Kind: UartPl011, Base: mem.NewPA(0x09000000)},
		AcpiRSDP: mem.NewPA(0x7fe0000),
	}

	ffi, raw := ToFFI(bi)
	if len(raw) != len(bi.Memory) {
		t.Fatalf("expected %d raw blocks; got %d", len(bi.Memory), len(raw))
	}

	got := FromFFI(ffi)
	if len(got.Memory) != len(bi.Memory) {
		t.Fatalf("expected %d blocks after round trip; got %d", len(bi.Memory), len(got.Memory))
	}
	for i, b := range bi.Memory {
		if got.Memory[i] != b {
			t.Fatalf("block %d: want %+v got %+v", i, b, got.Memory[i])
		}
	}
	if got.Uart != bi.Uart {
		t.Fatalf("uart: want %+v got %+v", bi.Uart, got.Uart)
	}
	if got.AcpiRSDP != bi.AcpiRSDP {
		t.Fatalf("acpi rsdp: want %#x got %#x", bi.AcpiRSDP, got.AcpiRSDP)
	}
}

func TestToFFIEmptyMemory(t *testing.T) {
	ffi, raw := ToFFI(BootInfo{})
	if len(raw) != 0 {
		t.Fatalf("expected no raw blocks; got %d", len(raw))
	}
	got := FromFFI(ffi)
	if len(got.Memory) != 0 {
		t.Fatalf("expected no blocks after round trip; got %d", len(got.Memory))
	}
}

func TestRegionsFiltersByType(t *testing.T) {
	bi := BootInfo{Memory: []MemoryBlock{
		block(BlockUnused, 0x1000, 2),
		block(BlockKernel, 0x3000, 1),
		block(BlockUnused, 0x4000, 1),
	}}

	regions := bi.Regions(BlockUnused)
	if len(regions) != 2 {
		t.Fatalf("expected 2 unused regions; got %d", len(regions))
	}
	if regions[0].Start != mem.NewPA(0x1000) || regions[0].End != mem.NewPA(0x3000) {
		t.Fatalf("unexpected region 0: %+v", regions[0])
	}
	if regions[1].Start != mem.NewPA(0x4000) || regions[1].End != mem.NewPA(0x5000) {
		t.Fatalf("unexpected region 1: %+v", regions[1])
	}
}
