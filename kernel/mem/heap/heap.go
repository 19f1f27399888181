// Package heap implements the kernel's own dynamic allocator, used once the
// Go runtime's allocator is unavailable (this kernel never initializes one;
// see spec.md §4.E and DESIGN.md for why). It is a classic freelist
// allocator with in-band block headers and immediate coalescing of
// adjacent free blocks, grown a page at a time by mapping fresh frames
// through vmm.KernelPageMap as the freelist cannot satisfy a request.
//
// Grounded on the teacher's kernel/goruntime/bootstrap.go sysAlloc, which
// grows the Go runtime's own arena by reserving virtual pages and mapping
// fresh frames into them one page at a time; this package reuses that
// page-by-page growth idiom but replaces the Go runtime arena with a plain
// freelist because this kernel does not bootstrap a hosted Go allocator at
// all.
package heap

import (
	"unsafe"

	"teaos/kernel"
	"teaos/kernel/mem"
)

// ErrOutOfMemory is returned when growHeapFn cannot map any more pages.
var ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "kernel heap exhausted"}

const (
	headerSize   = unsafe.Sizeof(blockHeader{})
	minBlockSize = headerSize + 16
	magicFree    = 0xf2ee
	magicUsed    = 0x0521
)

// blockHeader precedes every block, free or allocated, in the heap's
// address range. size covers the header itself plus the usable payload.
type blockHeader struct {
	size  uintptr
	magic uint16
	_     uint16
	next  *blockHeader // valid only while magic == magicFree
	prev  *blockHeader
}

// Allocator is a freelist heap bounded to [start, start+Size). The zero
// value is not usable; construct with New.
type Allocator struct {
	start    mem.VA
	end      mem.VA // current high-water mark of mapped-in address space
	limit    mem.VA // start+maxSize; grow never maps past this
	freeHead *blockHeader
}

// growFn maps one more page at the heap's current high-water mark at,
// returning an error if the page cannot be mapped. Set by kernel/init wiring to
// vmm.KernelPageMap.GrowHeap; tests substitute a fake backed by ordinary Go
// memory.
var growFn func(at mem.VA) *kernel.Error

// SetGrowFunc installs the function New/grow use to back one more page of
// heap address space. kernel/init calls this once, wiring it to
// vmm.KernelPageMap.GrowHeap, before the first call to New.
func SetGrowFunc(f func(at mem.VA) *kernel.Error) {
	growFn = f
}

// New creates an allocator covering [start, start+maxSize) and installs the
// first block, spanning one freshly-grown page, onto the freelist.
func New(start mem.VA, maxSize mem.Size) (*Allocator, *kernel.Error) {
	a := &Allocator{start: start, end: start, limit: start.Add(uint64(maxSize))}
	if err := a.grow(); err != nil {
		return nil, err
	}
	return a, nil
}

// grow maps one additional page at the heap's high-water mark and either
// extends the last free block (if it directly precedes the new page) or
// inserts a new one.
func (a *Allocator) grow() *kernel.Error {
	if a.end.Add(uint64(mem.PageSize)) > a.limit {
		return ErrOutOfMemory
	}
	if err := growFn(a.end); err != nil {
		return err
	}

	newBlock := (*blockHeader)(unsafe.Pointer(uintptr(a.end.Ptr())))
	newBlock.size = uintptr(mem.PageSize)
	newBlock.magic = magicFree
	a.end = a.end.Add(uint64(mem.PageSize))

	a.insertFree(newBlock)
	a.coalesceWithNeighbors(newBlock)

	if prevAdj := a.blockBefore(newBlock); prevAdj != nil && prevAdj.magic == magicFree {
		a.removeFree(newBlock)
		prevAdj.size += newBlock.size
	}
	return nil
}

// insertFree inserts b into the freelist at the position that keeps the
// list sorted by ascending block address, walking from the head until it
// finds the first block starting after b or runs off the end.
func (a *Allocator) insertFree(b *blockHeader) {
	var prev *blockHeader
	cur := a.freeHead
	for cur != nil && uintptr(unsafe.Pointer(cur)) < uintptr(unsafe.Pointer(b)) {
		prev = cur
		cur = cur.next
	}

	b.prev = prev
	b.next = cur
	if prev != nil {
		prev.next = b
	} else {
		a.freeHead = b
	}
	if cur != nil {
		cur.prev = b
	}
}

func (a *Allocator) removeFree(b *blockHeader) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		a.freeHead = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
}

// blockAfter returns the header immediately following b, or nil if b is the
// last block in the mapped range.
func (a *Allocator) blockAfter(b *blockHeader) *blockHeader {
	addr := uintptr(unsafe.Pointer(b)) + b.size
	if mem.VA(addr) >= a.end {
		return nil
	}
	return (*blockHeader)(unsafe.Pointer(addr))
}

// coalesceWithNeighbors merges b with an immediately-following free block,
// if there is one. Merging with a preceding free block is done separately
// by grow() and Free through blockBefore.
func (a *Allocator) coalesceWithNeighbors(b *blockHeader) {
	next := a.blockAfter(b)
	if next != nil && next.magic == magicFree {
		a.removeFree(next)
		b.size += next.size
	}
}

// Alloc returns a pointer to a zero-initialized block of at least size
// bytes, growing the heap as needed.
func (a *Allocator) Alloc(size mem.Size) (unsafe.Pointer, *kernel.Error) {
	need := alignUp(uintptr(size)+headerSize, 8)
	if need < minBlockSize {
		need = minBlockSize
	}

	for {
		if b := a.findFit(need); b != nil {
			a.split(b, need)
			b.magic = magicUsed
			payload := unsafe.Pointer(uintptr(unsafe.Pointer(b)) + headerSize)
			mem.Memset(uintptr(payload), 0, mem.Size(b.size-uintptr(headerSize)))
			return payload, nil
		}
		if err := a.grow(); err != nil {
			return nil, err
		}
	}
}

func (a *Allocator) findFit(need uintptr) *blockHeader {
	for b := a.freeHead; b != nil; b = b.next {
		if b.size >= need {
			return b
		}
	}
	return nil
}

// split carves a need-byte block off the front of b if the remainder is
// large enough to host a free block of its own.
func (a *Allocator) split(b *blockHeader, need uintptr) {
	a.removeFree(b)
	if b.size-need < minBlockSize {
		return
	}

	remainder := (*blockHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(b)) + need))
	remainder.size = b.size - need
	remainder.magic = magicFree
	b.size = need

	a.insertFree(remainder)
}

// Free returns a block obtained from Alloc to the freelist, coalescing with
// adjacent free neighbors. Calling Free on a pointer not obtained from
// Alloc, or on one already freed, panics.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	b := (*blockHeader)(unsafe.Pointer(uintptr(ptr) - headerSize))
	if b.magic != magicUsed {
		panic("heap: Free of invalid or already-freed pointer")
	}
	b.magic = magicFree

	a.insertFree(b)
	a.coalesceWithNeighbors(b)

	if prevAdj := a.blockBefore(b); prevAdj != nil && prevAdj.magic == magicFree {
		a.removeFree(b)
		a.removeFree(prevAdj)
		prevAdj.size += b.size
		a.insertFree(prevAdj)
	}
}

// blockBefore performs a linear scan from the start of the mapped range to
// find the block immediately preceding b. The teacher's bitmap/bootmem
// allocators never need backward neighbor lookups since they track
// reservations by index rather than an in-band linked structure; a heap
// with in-band headers only, with no footer, has no O(1) way to find the
// previous block. A doubly-linked-by-address footer would make this O(1)
// at the cost of another 8 bytes per block; left as a possible follow-up
// if heap fragmentation analysis ever shows this scan matters.
func (a *Allocator) blockBefore(b *blockHeader) *blockHeader {
	cur := (*blockHeader)(unsafe.Pointer(uintptr(a.start.Ptr())))
	for cur != nil {
		next := a.blockAfter(cur)
		if next == b {
			return cur
		}
		cur = next
	}
	return nil
}

func alignUp(v, n uintptr) uintptr {
	return (v + n - 1) &^ (n - 1)
}
