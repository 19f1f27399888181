package vmm

import (
	"teaos/kernel"
	"teaos/kernel/cpu"
	"teaos/kernel/mem"
	"teaos/kernel/mem/pmm"
)

// tcrValue encodes TCR_EL1 per spec.md §4.C: T0SZ/T1SZ=16 (48-bit VA for
// both halves), TG0/TG1=4KiB, inner-shareable + write-back/write-allocate
// for both halves. EPD0 is left clear here; Bootstrap sets it once TTBR0 is
// no longer needed for the loader's identity map.
const (
	tcrT0SZShift = 0
	tcrT1SZShift = 16
	tcrSZ48      = 16

	tcrIRGN0WBWAShift = 8
	tcrORGN0WBWAShift = 10
	tcrSH0ISShift     = 12
	tcrIRGN1WBWAShift = 24
	tcrORGN1WBWAShift = 26
	tcrSH1ISShift     = 28
	tcrWBWA           = 1
	tcrIS             = 3

	tcrEPD0Bit = 1 << 7
	tcrTG0_4K  = 0 << 14
	tcrTG1_4K  = 2 << 30
)

func tcrValue(epd0 bool) uint64 {
	v := uint64(tcrSZ48)<<tcrT0SZShift | uint64(tcrSZ48)<<tcrT1SZShift
	v |= uint64(tcrWBWA)<<tcrIRGN0WBWAShift | uint64(tcrWBWA)<<tcrORGN0WBWAShift | uint64(tcrIS)<<tcrSH0ISShift
	v |= uint64(tcrWBWA)<<tcrIRGN1WBWAShift | uint64(tcrWBWA)<<tcrORGN1WBWAShift | uint64(tcrIS)<<tcrSH1ISShift
	v |= tcrTG0_4K | tcrTG1_4K
	if epd0 {
		v |= tcrEPD0Bit
	}
	return v
}

var (
	writeTTBR1Fn = cpu.WriteTTBR1EL1
	writeTTBR0Fn = cpu.WriteTTBR0EL1
	writeTCRFn   = cpu.WriteTCREL1
)

// KernelPageMap is the singleton TTBR1 map shared by every address space:
// the kernel image, the physmap, and the MMIO/heap regions it manages
// directly. Grounded on the teacher's PageDirectoryTable singleton install
// in kernel/mem/vmm/vmm.go's Init, generalized from "the only page
// directory there is" to "the TTBR1 half shared across every process."
type KernelPageMap struct {
	pm       *PageMap
	heapNext mem.VA
}

var kernelMap *KernelPageMap

// BootstrapKernelMap builds the kernel's own TTBR1 tree by deep-cloning the
// boot loader's handoff map (bootPM, reached read-only through the physmap)
// into a freshly allocated set of tables, then installs it and disables
// TTBR0 translation. This matches spec.md §4.D: "steals the current TTBR1
// ... so that the boot loader's frames can later be reclaimed."
func BootstrapKernelMap(bootPM *PageMap) (*KernelPageMap, *kernel.Error) {
	pm := NewPageMap(0, true)
	if err := pm.CloneFrom(bootPM); err != nil {
		return nil, err
	}

	km := &KernelPageMap{pm: pm, heapNext: mem.KHeapStart}
	km.install()
	kernelMap = km
	return km, nil
}

// install loads km's root into TTBR1_EL1, disables TTBR0 (the loader's
// identity map is no longer needed once the kernel's own tree is active),
// and flushes every stale TLB entry left over from the loader's walks.
func (km *KernelPageMap) install() {
	writeTCRFn(tcrValue(true))
	writeTTBR1Fn(uint64(km.pm.Base()))
	writeTTBR0Fn(0)
	flushTLBAll()
}

// MapRAMPage inserts a Normal-memory page descriptor backed by ref, per
// spec.md §4.D. The map takes ownership of ref; a later Unmap releases it.
func (km *KernelPageMap) MapRAMPage(va mem.VA, ref pmm.FrameRef, flags Flag) *kernel.Error {
	return km.pm.Map(va, ref, flags&^FlagDevice)
}

// MapMMIOPage inserts a Device-memory descriptor for a frame known to be
// MMIO; no pmm.FrameRef is needed since the frame is never subject to
// refcounted reclamation the way RAM frames are.
func (km *KernelPageMap) MapMMIOPage(va mem.VA, pfn mem.FrameNr, flags Flag) *kernel.Error {
	return km.pm.Map(va, pmm.RefFromPFN(pfn), flags|FlagDevice)
}

// MapDataPage allocates a fresh zeroed frame and maps it at va with
// kernel-only read-write, non-executable flags: the convenience form used
// by GrowHeap and by any kernel subsystem that just wants a private page.
func (km *KernelPageMap) MapDataPage(va mem.VA) *kernel.Error {
	return km.MapRAMPage(va, pmm.AllocZero(), FlagWrite)
}

// GrowHeap maps one fresh data page at at, the heap's current high-water
// mark, and advances heapNext. Returns an error without mapping anything if
// at has drifted past KHeapStart+KHeapSize; heap.Allocator checks its own
// limit first, so this should only trip if the two disagree.
func (km *KernelPageMap) GrowHeap(at mem.VA) *kernel.Error {
	limit := mem.KHeapStart.Add(uint64(mem.KHeapSize))
	if at.Add(uint64(mem.PageSize)) > limit {
		return ErrRegionExhausted
	}
	if err := km.MapDataPage(at); err != nil {
		return err
	}
	km.heapNext = at.Add(uint64(mem.PageSize))
	return nil
}

// PageMap exposes the underlying translation tree, for callers (such as
// UserPageMap construction) that need to share kernel-side mappings or
// inspect Base().
func (km *KernelPageMap) PageMap() *PageMap { return km.pm }
