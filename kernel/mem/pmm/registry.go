package pmm

import (
	"reflect"
	"unsafe"

	"teaos/kernel/mem"
)

// registry is the five-level sparse radix map keyed by the 36-bit physical
// frame number, described in spec.md §4.B. Level fan-out from the root is
// {2, 512, 512, 512, 256}, consuming {1, 9, 9, 9, 8} bits of the PFN from
// the most-significant end. Intermediate nodes (levels 0-3) are arrays of
// pointers; the level-4 leaf is an array of frameMeta values so that a
// managed frame's metadata address is stable for its lifetime, per the
// spec's invariant.
//
// Grounded on the teacher's bitmap_allocator.go technique of overlaying a
// Go slice on top of a raw, PMM-backed address via reflect.SliceHeader; this
// registry generalizes that one flat bitmap into a multi-level sparse tree
// because frame metadata here carries a per-frame refcount rather than a
// single reservation bit.
type registry struct {
	root [2]*node1
}

type node1 struct{ children [512]*node2 }
type node2 struct{ children [512]*node3 }
type node3 struct{ children [512]*leaf }

// leaf holds the actual Frame metadata for up to 256 consecutive PFNs.
type leaf struct {
	frames [256]frameMeta
}

// frameMeta is the per-frame metadata kept by the registry.
type frameMeta struct {
	// refcount is the number of live FrameRef handles plus the number of
	// page-table descriptors that point at this frame (map count).
	refcount uint32
	// present distinguishes "never registered" from "registered with
	// refcount 0", which cannot normally be observed (a frame is removed
	// from the registry the instant its refcount reaches zero) but is
	// useful for defensive lookups.
	present bool
}

const (
	bitsRoot  = 1
	bitsL1    = 9
	bitsL2    = 9
	bitsL3    = 9
	bitsLeaf  = 8
	shiftRoot = bitsL1 + bitsL2 + bitsL3 + bitsLeaf
	shiftL1   = bitsL2 + bitsL3 + bitsLeaf
	shiftL2   = bitsL3 + bitsLeaf
	shiftL3   = bitsLeaf
)

func splitPFN(pfn mem.FrameNr) (r, i1, i2, i3, il int) {
	v := uint64(pfn)
	r = int((v >> shiftRoot) & ((1 << bitsRoot) - 1))
	i1 = int((v >> shiftL1) & ((1 << bitsL1) - 1))
	i2 = int((v >> shiftL2) & ((1 << bitsL2) - 1))
	i3 = int((v >> shiftL3) & ((1 << bitsL3) - 1))
	il = int(v & ((1 << bitsLeaf) - 1))
	return
}

// nodeAllocFn provisions one zeroed, page-sized, never-freed block of
// memory for an intermediate or leaf node, returning a writable pointer to
// it. It is set by the allocator to a function that pops a raw frame
// straight off the freelist and translates it through the same
// physAccessFn seam the freelist itself uses: registry nodes are not
// registered frames (they would otherwise need registry entries to hold
// their own metadata, which is circular), matching the spec's "allocated
// from the PMM itself... and are never freed."
var nodeAllocFn func() unsafe.Pointer

func allocNodeMem() unsafe.Pointer {
	return nodeAllocFn()
}

// physmapBase is the kernel physmap origin the default physAccessFn and
// zeroFrameFn (in allocator.go) add to a PA to get a writable VA. It is set
// only through SetPhysmapBase, which no kernel package calls, so it stays
// zero and a PA is used as its own VA. Tests override physAccessFn directly
// and never consult this value.
var physmapBase uint64

// SetPhysmapBase wires the kernel physmap origin into the allocator so frame
// metadata nodes (and the freelist's in-frame link pointers) can be reached
// before any page-table mapping exists.
func SetPhysmapBase(base uint64) {
	physmapBase = base
}

func newRegistry() *registry {
	return &registry{}
}

// lookup returns the frameMeta slot for pfn, allocating intermediate nodes
// along the way if create is true. It returns nil if create is false and
// the path does not yet exist.
func (r *registry) lookup(pfn mem.FrameNr, create bool) *frameMeta {
	ri, i1, i2, i3, il := splitPFN(pfn)

	n1 := r.root[ri]
	if n1 == nil {
		if !create {
			return nil
		}
		n1 = (*node1)(allocNodeMem())
		r.root[ri] = n1
	}

	n2 := n1.children[i1]
	if n2 == nil {
		if !create {
			return nil
		}
		n2 = (*node2)(allocNodeMem())
		n1.children[i1] = n2
	}

	n3 := n2.children[i2]
	if n3 == nil {
		if !create {
			return nil
		}
		n3 = (*node3)(allocNodeMem())
		n2.children[i2] = n3
	}

	lf := n3.children[i3]
	if lf == nil {
		if !create {
			return nil
		}
		lf = (*leaf)(allocNodeMem())
		n3.children[i3] = lf
	}

	return &lf.frames[il]
}

// slice64 overlays a []uint64 view on top of a raw address; used by nothing
// in this file directly but kept alongside splitPFN as the one place the
// registry would reach for a manual SliceHeader view, matching the
// teacher's idiom, should a flat scan ever be needed by a debugging tool.
func slice64(addr uintptr, words int) []uint64 {
	return *(*[]uint64)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  words,
		Cap:  words,
	}))
}
