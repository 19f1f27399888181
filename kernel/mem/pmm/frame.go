// Package pmm implements the physical frame allocator described in
// spec.md §4.B: a freelist of unmanaged frames plus a five-level sparse
// radix registry that tracks a refcount for every frame currently handed
// out. It is grounded on the teacher's kernel/mem/pmm package (the Frame
// type and its Address() helper) and on
// kernel/mem/pmm/allocator/bitmap_allocator.go's mockable-function-variable
// test idiom, adapted from a single reservation bitmap to a refcounted
// registry because the spec requires frames to be shared (multiple
// mappings, future copy-on-write) rather than merely reserved.
package pmm

import (
	"teaos/kernel"
	"teaos/kernel/mem"
	"teaos/kernel/sync"
)

// ErrNotManaged describes a PFN with no live registry entry. No function in
// this package returns it; GetAllocFrame reports that case with ok=false.
var ErrNotManaged = &kernel.Error{Module: "pmm", Message: "frame is not managed"}

// FrameRef is a refcounted handle to a physical frame. The zero value is
// not valid; only Alloc, AllocZero, Clone, GetAllocFrame and RefFromPFN
// produce one.
type FrameRef struct {
	pfn mem.FrameNr
}

// PFN returns the frame number this handle refers to.
func (f FrameRef) PFN() mem.FrameNr { return f.pfn }

// Address returns the physical address of the frame's first byte.
func (f FrameRef) Address() mem.PA { return f.pfn.Address() }

// Clone increments the frame's refcount and returns a second independent
// handle to the same frame. Each returned handle must eventually be Dropped
// exactly once.
func (f FrameRef) Clone() FrameRef {
	globalAlloc.incref(f.pfn)
	return FrameRef{pfn: f.pfn}
}

// Drop decrements the frame's refcount, returning it to the freelist once
// the count reaches zero. Dropping the same handle twice panics: refcounts
// are not recoverable once they underflow.
func (f FrameRef) Drop() {
	globalAlloc.decref(f.pfn)
}

// RefFromPFN reconstructs a FrameRef for a frame number read back out of a
// page-table descriptor. It does not touch the refcount: the caller must
// already own a reference to pfn (typically the PageMap that installed the
// original descriptor), and is transferring ownership of that reference to
// the returned handle rather than creating a new one.
func RefFromPFN(pfn mem.FrameNr) FrameRef {
	return FrameRef{pfn: pfn}
}

// GetAllocFrame hands out an additional counted handle for a frame that is
// already managed (registered by a prior Alloc/AllocZero and not yet fully
// dropped), incrementing its refcount. ok is false, and the refcount is left
// untouched, if pfn has no live registry entry — unlike Clone and incref,
// which both assume the caller already owns a reference and panic if that
// assumption is wrong, GetAllocFrame's caller only has a bare PFN and needs
// a safe way to find out whether it is still live.
func GetAllocFrame(pfn mem.FrameNr) (FrameRef, bool) {
	globalAlloc.mu.Acquire()
	defer globalAlloc.mu.Release()

	meta := globalAlloc.reg.lookup(pfn, false)
	if meta == nil || !meta.present {
		return FrameRef{}, false
	}
	meta.refcount++
	return FrameRef{pfn: pfn}, true
}

// allocator is the PMM singleton: a freelist of raw, unregistered frames
// plus the refcount registry for frames that have been handed out via
// Alloc/AllocZero. Access is serialized by mu; the teacher's bitmap
// allocator instead relies on running single-threaded during setup and a
// Spinlock elsewhere, but this kernel's Mutex panics on misuse rather than
// spinning, since a reentrant acquire here can only indicate a bug.
type allocator struct {
	mu       sync.Mutex
	freeHead mem.PA
	seeded   bool
	reg      *registry
	total    uint64
	free     uint64
}

var globalAlloc = &allocator{}

func init() {
	globalAlloc.reg = newRegistry()
	nodeAllocFn = globalAlloc.popFreelistRaw
}
