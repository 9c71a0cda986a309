// Package sync provides the synchronization primitives used across the
// kernel: a spinlock, a counting semaphore with an explicit FIFO waiter
// list, and a one-shot thread parker. All three are ported from
// gopheros/kernel/sync and rustpie's src/lib/semaphore.rs and
// lib/libtrusted/src/thread/thread_parker.rs, generalized from their
// bare-metal/no_std originals to run as ordinary goroutines.
package sync

import "sync/atomic"

// Spinlock is a lock where a caller busy-waits until it becomes available.
// Matches spec §5's discipline for the ASID bitmap, TID bitmap, global
// {TID->Thread}/{ASID->AddressSpace} tables, and per-thread/per-address-space
// state: each of those is guarded by exactly one Spinlock.
//
// Re-acquiring a lock already held by the caller deadlocks, same as the
// teacher's version.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock is held by the caller.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// busy-wait; a real core would issue a pause/yield instruction
		// here. On a host goroutine scheduler, runtime.Gosched keeps
		// the spin from starving other goroutines on a GOMAXPROCS=1
		// test run.
		gosched()
	}
}

// TryToAcquire attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock. Calling Release on a free lock has no
// effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
