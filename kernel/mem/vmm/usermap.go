package vmm

import (
	"unsafe"

	"teaos/kernel"
	"teaos/kernel/mem"
	"teaos/kernel/mem/pmm"
)

// Segment describes one PT_LOAD-equivalent ELF segment to map into a user
// address space: seg.Data is copied page by page into fresh frames starting
// at seg.VA, which must be page-aligned.
type Segment struct {
	VA         mem.VA
	Data       []byte
	Writable   bool
	Executable bool
}

// UserPageMap is an independent PageMap installed into TTBR0 with a
// per-process ASID, per spec.md §4.F. Its lifetime follows the process: the
// caller drops every mapping (or simply lets the frames' refcounts fall to
// zero via process teardown) when the process exits.
type UserPageMap struct {
	pm       *PageMap
	asid     uint16
	heapNext mem.VA
}

// NewUserPageMap allocates a fresh, empty TTBR0 tree for the given ASID.
func NewUserPageMap(asid uint16) *UserPageMap {
	pm := NewPageMap(asid, false)
	return &UserPageMap{pm: pm, asid: asid, heapNext: mem.UserHeapStart}
}

// PageMap exposes the underlying translation tree.
func (um *UserPageMap) PageMap() *PageMap { return um.pm }

// segmentFlags derives the access-permission and XN flags spec.md §4.F
// assigns to a segment: UnprivRW vs UnprivRO per the segment's writable bit,
// PXN always set (the kernel may never execute user memory), UXN clear only
// when the segment is executable.
func segmentFlags(seg Segment) Flag {
	f := FlagUser
	if seg.Writable {
		f |= FlagWrite
	}
	if seg.Executable {
		f |= FlagExec
	}
	return f
}

// MapSegment copies seg.Data into freshly allocated RAM frames and maps them
// at seg.VA, one page at a time. A trailing partial page is backed by a
// zeroed frame with only the remaining bytes copied in, so the tail past
// len(seg.Data) reads as zero rather than leaking allocator garbage.
func (um *UserPageMap) MapSegment(seg Segment) *kernel.Error {
	if !seg.VA.IsPageAligned() {
		return ErrNotMapped
	}

	flags := segmentFlags(seg)
	pages := mem.Size(len(seg.Data)).Pages()

	for i := uint64(0); i < pages; i++ {
		ref := pmm.AllocZero()

		va := seg.VA.Add(i * uint64(mem.PageSize))
		dst := paToVAFn(ref.Address())
		start := i * uint64(mem.PageSize)
		end := start + uint64(mem.PageSize)
		if end > uint64(len(seg.Data)) {
			end = uint64(len(seg.Data))
		}
		copyIntoFrame(dst, seg.Data[start:end])

		if err := um.pm.Map(va, ref, flags); err != nil {
			return err
		}
	}
	return nil
}

// copyIntoFrame overlays a page-sized byte slice on dst (a physmap or
// identity VA reached through paToVAFn) and copies src into its front. A
// package var so tests can swap in a fake backed by ordinary Go memory
// without routing through unsafe pointer arithmetic on a real physmap VA.
var copyIntoFrame = defaultCopyIntoFrame

func defaultCopyIntoFrame(dst mem.VA, src []byte) {
	if len(src) == 0 {
		return
	}
	mem.Memcopy(dst.Ptr(), uintptr(unsafe.Pointer(&src[0])), mem.Size(len(src)))
}

// MapStack installs the fixed-size, fixed-location user stack region:
// UserStackSize worth of pages ending at UserStackTop (exclusive), backed
// by fresh zeroed frames, read-write and non-executable.
func (um *UserPageMap) MapStack() *kernel.Error {
	pages := uint64(mem.UserStackSize) / uint64(mem.PageSize)
	base := mem.VA(uint64(mem.UserStackTop) - uint64(mem.UserStackSize))

	for i := uint64(0); i < pages; i++ {
		ref := pmm.AllocZero()
		va := base.Add(i * uint64(mem.PageSize))
		if err := um.pm.Map(va, ref, FlagUser|FlagWrite); err != nil {
			return err
		}
	}
	return nil
}

// GrowUserHeap maps one fresh data page at the heap's current high-water
// mark, the TTBR0 analogue of KernelPageMap.GrowHeap.
func (um *UserPageMap) GrowUserHeap() (mem.VA, *kernel.Error) {
	limit := mem.UserHeapStart.Add(uint64(mem.UserHeapSize))
	if um.heapNext.Add(uint64(mem.PageSize)) > limit {
		return 0, ErrRegionExhausted
	}

	ref := pmm.AllocZero()
	at := um.heapNext
	if err := um.pm.Map(at, ref, FlagUser|FlagWrite); err != nil {
		return 0, err
	}
	um.heapNext = at.Add(uint64(mem.PageSize))
	return at, nil
}

// Activate loads this map's root into TTBR0_EL1 tagged with its ASID and
// flushes the TLB, making it the active lower-half address space.
func (um *UserPageMap) Activate() {
	writeTCRFn(tcrValue(false))
	writeTTBR0Fn(uint64(um.asid)<<48 | uint64(um.pm.Base()))
	flushTLBAll()
}
