// Package sync provides the single-slot mutex used to guard every process-wide
// singleton in the kernel (the PMM, the VMM, the kernel page map, the heap).
//
// Unlike the spinlock this package is grounded on
// (src/gopheros/kernel/sync.Spinlock in the teacher tree, which busy-waits on
// re-acquisition), a Mutex here never blocks: the core is uniprocessor and
// single-threaded until a user process is entered, so a second Acquire can
// only mean a bug — a forgotten Release, or re-entrant use from an exception
// handler — and spec.md §5 requires that to panic rather than deadlock
// silently.
package sync

import "sync/atomic"

// Mutex is a single-slot atomic "locked" flag guarding a single value.
type Mutex struct {
	locked uint32
}

// Acquire takes the lock. It panics if the lock was already held.
func (m *Mutex) Acquire() {
	if !atomic.CompareAndSwapUint32(&m.locked, 0, 1) {
		panic("sync: mutex double-acquire")
	}
}

// Release relinquishes a held lock. Calling Release without a matching
// Acquire panics.
func (m *Mutex) Release() {
	if !atomic.CompareAndSwapUint32(&m.locked, 1, 0) {
		panic("sync: release of unlocked mutex")
	}
}

// Held reports whether the lock is currently held. Intended for assertions,
// not for synchronization decisions.
func (m *Mutex) Held() bool {
	return atomic.LoadUint32(&m.locked) == 1
}
