package vmm

import (
	"unsafe"

	"teaos/kernel"
	"teaos/kernel/mem"
	"teaos/kernel/mem/pmm"
)

// ErrNotMapped is returned by Unmap and Translate when the requested page
// has no mapping.
var ErrNotMapped = &kernel.Error{Module: "vmm", Message: "address not mapped"}

// ErrAlreadyMapped is returned by Map when the requested page already has a
// mapping; callers must Unmap first (break-before-make).
var ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "address already mapped"}

// ErrRegionExhausted is returned when a fixed-size region (the kernel heap,
// a user stack/heap) has no room left to grow into.
var ErrRegionExhausted = &kernel.Error{Module: "vmm", Message: "region has no room left to grow"}

// tableView overlays the 512 8-byte descriptors held in one physical
// page-table frame. Reached through the physmap, so it is valid as soon as
// pmm.Seed has included the frame's physical range.
type tableView *[mem.EntriesPerTable]pte

// paToVAFn resolves a table frame's physical address to a dereferenceable
// VA. Production code always goes through the kernel physmap; tests
// override it to point at ordinary Go-allocated memory instead.
var paToVAFn = mem.PAtoVA

func viewTable(f mem.FrameNr) tableView {
	va := paToVAFn(f.Address())
	return (tableView)(unsafe.Pointer(uintptr(va.Ptr())))
}

// PageMap is a 4-level ARMv8-A translation table tree rooted at a single
// frame. KernelPageMap and UserPageMap both embed one; the difference
// between TTBR0 and TTBR1 users is purely which register Activate loads it
// into and whether mappings set the user-accessible AP bits.
//
// Grounded on the teacher's PageDirectoryTable (kernel/mem/vmm/pdt.go),
// generalized from a single recursively-addressed table to an explicit
// 4-level, physmap-addressed walk because ARMv8-A has no cheap recursive
// self-map trick equivalent to x86's and the spec calls for a plain
// non-recursive tree.
type PageMap struct {
	root  mem.FrameNr
	asid  uint16
	isTTBR1 bool
}

// NewPageMap allocates a fresh, zeroed top-level table and returns a
// PageMap rooted at it.
func NewPageMap(asid uint16, isTTBR1 bool) *PageMap {
	ref := pmm.AllocZero()
	return &PageMap{root: ref.PFN(), asid: asid, isTTBR1: isTTBR1}
}

// Base returns the physical address to program into TTBR0_EL1/TTBR1_EL1 to
// activate this page map.
func (pm *PageMap) Base() mem.PA {
	return pm.root.Address()
}

// FromTTBR1Base wraps a root table already active in TTBR1_EL1, installed
// by the boot loader before the kernel's entry point ran, so it can be
// walked and fed to CloneFrom. Unlike NewPageMap it allocates nothing: the
// root frame already exists and is not pmm-managed.
func FromTTBR1Base(root mem.PA) *PageMap {
	return &PageMap{root: root.Frame(), asid: 0, isTTBR1: true}
}

// walk returns the level-3 descriptor slot governing va, creating
// intermediate tables as it goes if create is true. The frame backing each
// newly-created table is taken from pmm via allocTableFn so tests can
// substitute a deterministic allocator.
var allocTableFn = pmm.AllocZero

func (pm *PageMap) walk(va mem.VA, create bool) (*pte, *kernel.Error) {
	frame := pm.root

	for level := uint(0); level < 3; level++ {
		tbl := viewTable(frame)
		idx := mem.PageTableIndex(va, level)
		entry := &tbl[idx]

		if !entry.valid() {
			if !create {
				return nil, ErrNotMapped
			}
			ref := allocTableFn()
			*entry = makeTableDescriptor(ref.PFN())
		}

		frame = entry.frame()
	}

	tbl := viewTable(frame)
	idx := mem.PageTableIndex(va, 3)
	return &tbl[idx], nil
}

// Map installs a mapping from va to the frame backing ref, consuming ref
// (the PageMap becomes the owner of the reference; Unmap drops it).
// Returns ErrAlreadyMapped if va already has a valid level-3 descriptor, per
// the break-before-make discipline: callers must Unmap before remapping.
// Because no valid entry is ever overwritten, Map issues only dsb ishst;
// isb after the store and no TLBI.
func (pm *PageMap) Map(va mem.VA, ref pmm.FrameRef, flags Flag) *kernel.Error {
	entry, err := pm.walk(va, true)
	if err != nil {
		return err
	}
	if entry.valid() {
		return ErrAlreadyMapped
	}

	*entry = makePageDescriptor(ref.PFN(), flags, attrIndexFor(flags))
	dsbISHSTFn()
	isbFn()
	return nil
}

// Unmap clears va's mapping and drops the PageMap's reference to the
// backing frame, returning it to the freelist if that was the last
// reference.
func (pm *PageMap) Unmap(va mem.VA) *kernel.Error {
	entry, err := pm.walk(va, false)
	if err != nil {
		return err
	}
	if !entry.valid() {
		return ErrNotMapped
	}

	pfn := entry.frame()
	*entry = 0
	flushTLBPage(va, pm.asid)

	pmm.RefFromPFN(pfn).Drop()
	return nil
}

// Translate returns the physical address va currently maps to.
func (pm *PageMap) Translate(va mem.VA) (mem.PA, *kernel.Error) {
	entry, err := pm.walk(va, false)
	if err != nil {
		return 0, err
	}
	if !entry.valid() {
		return 0, ErrNotMapped
	}
	return entry.frame().Address().Add(uint64(va) & uint64(mem.PageSize-1)), nil
}

// MapRegion maps pages consecutive frames starting at startFrame to pages
// consecutive pages starting at startVA, in order, stopping and returning the
// first error it hits (already-partially-installed mappings are left in
// place; callers that need all-or-nothing semantics must Unmap them).
func (pm *PageMap) MapRegion(startVA mem.VA, startFrame mem.FrameNr, pages uint64, flags Flag) *kernel.Error {
	for i := uint64(0); i < pages; i++ {
		va := startVA.Add(i * uint64(mem.PageSize))
		frame := mem.FrameNr(uint64(startFrame) + i)
		if err := pm.Map(va, pmm.RefFromPFN(frame), flags); err != nil {
			return err
		}
	}
	return nil
}

// CloneFrom deep-walks other's tree and reinstalls each valid leaf
// descriptor at the same VA in pm, pointing at the very same underlying
// frames. Those frames are not yet known to the pmm registry at the point
// this runs (the boot loader's identity map predates the first pmm.Seed),
// so the clone reconstructs each leaf ref with RefFromPFN rather than
// Clone: there is no existing refcount to bump, and the frames are either
// the permanent kernel image or about to be folded into the freelist by a
// later Seed of the boot loader's own regions. Intermediate tables are
// freshly allocated in pm rather than shared, so later changes to one map's
// page-table structure never disturb the other's. Used by kernelmap's
// bootstrap to steal the boot loader's TTBR1 layout into the kernel's own
// tree before the loader's frames are reclaimed.
func (pm *PageMap) CloneFrom(other *PageMap) *kernel.Error {
	return cloneLevel(pm, other.root, 0, 0)
}

func cloneLevel(pm *PageMap, srcFrame mem.FrameNr, level uint, vaPrefix mem.VA) *kernel.Error {
	tbl := viewTable(srcFrame)
	for idx := uint64(0); idx < mem.EntriesPerTable; idx++ {
		entry := tbl[idx]
		if !entry.valid() {
			continue
		}
		va := vaPrefix.Add(idx << (39 - 9*level))
		if level == 3 {
			if err := pm.Map(va, pmm.RefFromPFN(entry.frame()), entry.flags()); err != nil {
				return err
			}
			continue
		}
		if err := cloneLevel(pm, entry.frame(), level+1, va); err != nil {
			return err
		}
	}
	return nil
}
