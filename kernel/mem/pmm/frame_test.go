package pmm

import (
	"testing"
	"unsafe"

	"teaos/kernel/mem"
)

// fakePhysMem backs a contiguous range of PAs with ordinary Go memory so
// tests can exercise the freelist and registry without a real physmap.
type fakePhysMem struct {
	base  mem.PA
	bytes []byte
}

func newFakePhysMem(base mem.PA, frames int) *fakePhysMem {
	return &fakePhysMem{base: base, bytes: make([]byte, frames*int(mem.PageSize))}
}

func (f *fakePhysMem) access(pa mem.PA) *uint64 {
	off := uint64(pa) - uint64(f.base)
	return (*uint64)(unsafe.Pointer(&f.bytes[off]))
}

func (f *fakePhysMem) region(frames int) Region {
	return Region{Start: f.base, End: f.base.Add(uint64(frames) * uint64(mem.PageSize))}
}

func (f *fakePhysMem) zero(pa mem.PA) {
	off := uint64(pa) - uint64(f.base)
	for i := uint64(0); i < uint64(mem.PageSize); i++ {
		f.bytes[off+i] = 0
	}
}

// withFakeAllocator resets the package-level allocator state around t,
// pointing physAccessFn and nodeAllocFn's underlying pop at a fresh
// fakePhysMem so successive tests do not see each other's freelist state.
func withFakeAllocator(t *testing.T, frames int) *fakePhysMem {
	t.Helper()

	fp := newFakePhysMem(mem.NewPA(0x10_0000), frames)

	origAccess := physAccessFn
	origZero := zeroFrameFn
	origAlloc := globalAlloc
	t.Cleanup(func() {
		physAccessFn = origAccess
		zeroFrameFn = origZero
		globalAlloc = origAlloc
		nodeAllocFn = globalAlloc.popFreelistRaw
	})

	physAccessFn = fp.access
	zeroFrameFn = fp.zero
	globalAlloc = &allocator{reg: newRegistry()}
	nodeAllocFn = globalAlloc.popFreelistRaw

	Seed([]Region{fp.region(frames)})
	return fp
}

// testPoolFrames is large enough that every PFN the tests touch falls inside
// a single 1MiB-aligned registry leaf, so the node-path bootstrap cost (up
// to 4 frames, spent once on the first lookup that ever touches that leaf)
// is the only bookkeeping overhead a test needs to account for.
const testPoolFrames = 64
const registryBootstrapFrames = 4

func TestSeedAndAlloc(t *testing.T) {
	withFakeAllocator(t, testPoolFrames)

	total, free := Stats()
	if total != testPoolFrames || free != testPoolFrames {
		t.Fatalf("expected %d/%d frames free after seed; got %d/%d", testPoolFrames, testPoolFrames, free, total)
	}

	ref := Alloc()

	if got := RefCount(ref.PFN()); got != 1 {
		t.Fatalf("expected refcount 1 after Alloc; got %d", got)
	}

	_, free = Stats()
	if want := testPoolFrames - 1 - registryBootstrapFrames; free != uint64(want) {
		t.Fatalf("expected %d frames free after one alloc; got %d", want, free)
	}
}

func TestSeedTwiceAddsFrames(t *testing.T) {
	fp := withFakeAllocator(t, 4)

	// Back the second region with its own fake memory, the way kernel/init's
	// second Seed hands over the Boot blocks after the first one.
	fp2 := newFakePhysMem(mem.NewPA(0x20_0000), 1)
	physAccessFn = func(pa mem.PA) *uint64 {
		if pa >= fp2.base {
			return fp2.access(pa)
		}
		return fp.access(pa)
	}
	Seed([]Region{fp2.region(1)})

	if total, free := Stats(); total != 5 || free != 5 {
		t.Fatalf("expected 5/5 frames free after a second Seed; got %d/%d", free, total)
	}
}

func TestAllocExhaustion(t *testing.T) {
	// 6 frames = 1 managed + 4 registry-bootstrap frames on the first
	// alloc, leaving exactly 1 spare frame for a second alloc before the
	// freelist runs dry.
	withFakeAllocator(t, registryBootstrapFrames+2)

	Alloc()
	Alloc()

	defer func() {
		if recover() == nil {
			t.Fatal("expected third alloc to panic once the freelist is empty")
		}
	}()
	Alloc()
}

func TestCloneAndDropRefcounting(t *testing.T) {
	withFakeAllocator(t, testPoolFrames)

	ref := Alloc()

	baseline := testPoolFrames - 1 - registryBootstrapFrames

	clone := ref.Clone()
	if got := RefCount(ref.PFN()); got != 2 {
		t.Fatalf("expected refcount 2 after Clone; got %d", got)
	}

	ref.Drop()
	if got := RefCount(clone.PFN()); got != 1 {
		t.Fatalf("expected refcount 1 after one Drop; got %d", got)
	}

	_, free := Stats()
	if free != uint64(baseline) {
		t.Fatalf("expected frame still outstanding after one Drop; free=%d want=%d", free, baseline)
	}

	clone.Drop()
	_, free = Stats()
	if free != uint64(baseline+1) {
		t.Fatalf("expected frame returned to freelist after final Drop; free=%d want=%d", free, baseline+1)
	}
}

func TestDoubleDropPanics(t *testing.T) {
	withFakeAllocator(t, testPoolFrames)

	ref := Alloc()
	ref.Drop()

	defer func() {
		if recover() == nil {
			t.Fatal("expected second Drop to panic")
		}
	}()
	ref.Drop()
}

func TestAllocZeroesFreshlyAllocatedFrame(t *testing.T) {
	fp := withFakeAllocator(t, testPoolFrames)

	// Poison the backing memory so AllocZero's Memset is actually exercised,
	// leaving each frame's first word alone: it holds the freelist link.
	for i := range fp.bytes {
		if i%int(mem.PageSize) < 8 {
			continue
		}
		fp.bytes[i] = 0xff
	}

	ref := AllocZero()

	off := uint64(ref.Address()) - uint64(fp.base)
	for i := uint64(0); i < uint64(mem.PageSize); i++ {
		if fp.bytes[off+i] != 0 {
			t.Fatalf("expected AllocZero'd frame to be zeroed at offset %d", i)
		}
	}
}

func TestGetAllocFrameIncrefsManagedFrame(t *testing.T) {
	withFakeAllocator(t, testPoolFrames)

	ref := Alloc()

	second, ok := GetAllocFrame(ref.PFN())
	if !ok {
		t.Fatal("expected GetAllocFrame to find an already-managed frame")
	}
	if got := RefCount(ref.PFN()); got != 2 {
		t.Fatalf("expected refcount 2 after GetAllocFrame; got %d", got)
	}

	ref.Drop()
	second.Drop()
}

func TestGetAllocFrameRejectsUnmanagedPFN(t *testing.T) {
	withFakeAllocator(t, testPoolFrames)

	ref := Alloc()
	ref.Drop()

	if _, ok := GetAllocFrame(ref.PFN()); ok {
		t.Fatal("expected GetAllocFrame to reject a PFN that was dropped back to the freelist")
	}
}
