package pmm

import (
	"unsafe"

	"teaos/kernel/kfmt/early"
	"teaos/kernel/mem"
)

// physAccessFn dereferences a physical address for the allocator's own
// bookkeeping (the freelist's in-frame next-pointer). Before the kernel page
// map exists this must go through the UEFI-provided identity map; afterwards
// it is the kernel physmap. Tests override it with a plain slice-backed
// fake. Grounded on the teacher's reserveRegionFn/mapFn package-level
// var-of-func seams in allocator/bitmap_allocator.go.
var physAccessFn = defaultPhysAccess

func defaultPhysAccess(pa mem.PA) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(pa.Addr()) + uintptr(physmapBase)))
}

// Region is a half-open range of physical addresses available for the
// allocator to seed its freelist from, as reported by boot.BootInfo's
// memory map. Start and End must both be page-aligned.
type Region struct {
	Start mem.PA
	End   mem.PA
}

// Seed adds the frames of the given available regions to the freelist. It
// may be called more than once (kernel/init seeds the Unused blocks first and
// the Boot blocks later); each call adds to the total and free counts. The
// supplied regions must already be identity-mapped (or physmapped) so the
// allocator can thread its freelist through them.
func Seed(regions []Region) {
	globalAlloc.mu.Acquire()
	defer globalAlloc.mu.Release()

	globalAlloc.seeded = true

	var frames uint64
	for _, r := range regions {
		for pa := r.Start; pa < r.End; pa = pa.Add(uint64(mem.PageSize)) {
			globalAlloc.pushFreelistLocked(pa)
			frames++
		}
	}
	globalAlloc.total += frames
	globalAlloc.free += frames

	early.Printf("[pmm] seeded %d frames (%d KiB)\n", frames, uint64(mem.Size(frames)*mem.PageSize/mem.Kb))
}

// pushFreelistLocked adds pa to the head of the freelist. Caller holds mu.
func (a *allocator) pushFreelistLocked(pa mem.PA) {
	*physAccessFn(pa) = uint64(a.freeHead.Addr())
	a.freeHead = pa
}

// popFreelistLocked removes and returns the frame at the head of the
// freelist, or ok=false if it is empty. Caller holds mu.
func (a *allocator) popFreelistLocked() (pa mem.PA, ok bool) {
	if a.freeHead.Addr() == 0 {
		return 0, false
	}
	pa = a.freeHead
	next := *physAccessFn(pa)
	a.freeHead = mem.NewPA(next)
	a.free--
	return pa, true
}

// popFreelistRaw pops a raw frame for the registry's own node storage. These
// frames are never registered (no refcount entry, no leaf slot): doing so
// would require allocating a registry node to hold their metadata, which is
// the circular dependency the spec's "allocated from the PMM itself... and
// never freed" phrasing sidesteps. Panics if the freelist is exhausted,
// since there is no way to report an error through the registry's internal
// node-allocation path.
//
// Callers reach this only through a registry lookup triggered by Alloc,
// incref or decref, all of which already hold mu; it must not try to
// re-acquire it.
func (a *allocator) popFreelistRaw() unsafe.Pointer {
	pa, ok := a.popFreelistLocked()
	if !ok {
		panic("pmm: out of memory while growing frame registry")
	}

	ptr := physAccessFn(pa)
	mem.Memset(uintptr(unsafe.Pointer(ptr)), 0, mem.PageSize)
	return unsafe.Pointer(ptr)
}

// Alloc removes one frame from the freelist, registers it with an initial
// refcount of 1, and returns a handle to it. Panics if the freelist is
// empty: there is no recoverable path for a kernel that cannot get a frame
// it needs, and callers that can tolerate running out (none currently do)
// would need a reservation scheme checked ahead of the call, not an error
// return from it.
func Alloc() FrameRef {
	globalAlloc.mu.Acquire()
	pa, ok := globalAlloc.popFreelistLocked()
	if !ok {
		globalAlloc.mu.Release()
		panic("pmm: out of memory")
	}

	pfn := pa.Frame()
	meta := globalAlloc.reg.lookup(pfn, true)
	meta.refcount = 1
	meta.present = true
	globalAlloc.mu.Release()

	return FrameRef{pfn: pfn}
}

// zeroFrameFn zeroes the contents of the frame at pa. The default
// implementation goes through the kernel physmap; tests override it to
// write into a fake backing array instead.
var zeroFrameFn = defaultZeroFrame

func defaultZeroFrame(pa mem.PA) {
	va := uintptr(pa.Addr()) + uintptr(physmapBase)
	mem.Memset(va, 0, mem.PageSize)
}

// AllocZero behaves like Alloc but additionally zeroes the frame's contents
// through the physmap before returning it, matching the spec's
// alloc_zero/get_alloc_frame distinction for frames headed for user mappings.
// It panics under the same condition Alloc does.
func AllocZero() FrameRef {
	ref := Alloc()
	zeroFrameFn(ref.Address())
	return ref
}

// incref bumps the refcount of an already-registered frame; called by
// FrameRef.Clone and GetAllocFrame.
func (a *allocator) incref(pfn mem.FrameNr) {
	a.mu.Acquire()
	defer a.mu.Release()

	meta := a.reg.lookup(pfn, false)
	if meta == nil || !meta.present {
		panic("pmm: incref of unmanaged frame")
	}
	meta.refcount++
}

// decref drops the refcount of a registered frame, freeing it back to the
// freelist once the count reaches zero. Panics if the frame is not
// currently managed or its refcount has already reached zero, both of which
// indicate a double-free.
func (a *allocator) decref(pfn mem.FrameNr) {
	a.mu.Acquire()
	defer a.mu.Release()

	meta := a.reg.lookup(pfn, false)
	if meta == nil || !meta.present || meta.refcount == 0 {
		panic("pmm: decref of unmanaged or already-freed frame")
	}

	meta.refcount--
	if meta.refcount == 0 {
		meta.present = false
		a.pushFreelistLocked(pfn.Address())
		a.free++
	}
}

// RefCount returns the live refcount for pfn, or 0 if it is not currently
// managed. Exposed for diagnostics and tests.
func RefCount(pfn mem.FrameNr) uint32 {
	globalAlloc.mu.Acquire()
	defer globalAlloc.mu.Release()

	meta := globalAlloc.reg.lookup(pfn, false)
	if meta == nil || !meta.present {
		return 0
	}
	return meta.refcount
}

// Stats reports the total and currently-free frame counts across every
// seeded region.
func Stats() (total, free uint64) {
	globalAlloc.mu.Acquire()
	defer globalAlloc.mu.Release()
	return globalAlloc.total, globalAlloc.free
}
