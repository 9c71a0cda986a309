// Package thread implements the thread table and the thread half of the
// scheduler handoff (component D, spec.md §4.4): TID allocation, lifecycle,
// status transitions, parent-authority checks on destroy, and the
// thread-exit signal that unblocks any ITC peer wedged on a dying thread.
//
// Grounded on rustpie's src/lib/thread.rs ThreadPool/THREAD_MAP split: a
// bitmap for id allocation plus a separate ordered lookup table for live
// threads, ported 1:1 in shape and generalized from Arc<Inner> + spin::Mutex
// to a pointer-to-struct guarded by kernel/sync.Spinlock.
package thread

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/sync"
)

// TID is a 16-bit thread identifier. 0 is reserved: in thread_destroy it
// means "self", and an unset peer is represented as (TID(0), false) rather
// than a magic TID value.
type TID uint16

// Thread is one schedulable unit of execution: an owning address space (or
// kernel-mode), a parent link for destroy authority, a status, a saved
// register file, and at most one rendezvous peer.
type Thread struct {
	mu sync.Spinlock

	tid        TID
	asid       addrspace.ASID
	kernelMode bool
	parent     TID
	hasParent  bool

	status Status
	ctx    cpu.ContextFrame
	dead   bool

	peer    TID
	hasPeer bool
}

// TID returns the thread's identifier. Safe without holding the lock: set
// once at construction, never mutated.
func (t *Thread) TID() TID { return t.tid }

// ASID returns the address space the thread runs in. Meaningless (and
// ignored) for kernel-mode threads; check KernelMode first.
func (t *Thread) ASID() addrspace.ASID { return t.asid }

// KernelMode reports whether the thread runs with kernel privilege.
func (t *Thread) KernelMode() bool { return t.kernelMode }

// Parent returns the thread's parent TID and whether it has one. A thread
// created without an explicit parent (new_kernel at boot) has none, and
// only itself may destroy it.
func (t *Thread) Parent() (TID, bool) { return t.parent, t.hasParent }

// Lock and Unlock guard the (status, peer, context) tuple per spec.md §5.
// kernel/itc acquires exactly two threads' locks, always in ascending TID
// order, to implement the rendezvous atomically without a single global
// lock (see kernel/itc's doc comment for the ordering rationale).
func (t *Thread) Lock()   { t.mu.Acquire() }
func (t *Thread) Unlock() { t.mu.Release() }

// StatusLocked, SetStatusLocked, PeerLocked, SetPeerLocked and
// ContextLocked all require the caller to hold t's lock.

func (t *Thread) StatusLocked() Status { return t.status }

func (t *Thread) SetStatusLocked(s Status) {
	t.status = s
	if s == Runnable && enqueuer != nil {
		enqueuer(t)
	}
}

func (t *Thread) PeerLocked() (TID, bool) { return t.peer, t.hasPeer }

func (t *Thread) SetPeerLocked(tid TID, ok bool) {
	t.peer = tid
	t.hasPeer = ok
}

func (t *Thread) ContextLocked() cpu.ContextFrame { return t.ctx }

// DeadLocked reports whether t has already been destroyed. kernel/itc
// checks this immediately after acquiring a target's lock so that a
// send/reply whose target died between table lookup and the locked
// section can return InvalidArgument without blocking the sender
// (spec.md §4.5, "Failure recovery").
func (t *Thread) DeadLocked() bool { return t.dead }

// Enqueuer is registered by kernel/sched to hook a thread's transition to
// Runnable into the scheduler's ready queue, without kernel/thread having
// to import kernel/sched (which itself must import kernel/thread for the
// Thread type).
type Enqueuer func(t *Thread)

var enqueuer Enqueuer

// RegisterEnqueuer installs the callback SetStatusLocked(Runnable) invokes.
// Called once by kernel/sched during boot.
func RegisterEnqueuer(e Enqueuer) { enqueuer = e }

// FrameFactory builds a fresh ContextFrame for a newly created thread,
// matching the concrete architecture board.Config selected. Installed via
// SetFrameFactory rather than importing kernel/cpu/arm64 or
// kernel/cpu/riscv64 directly, so kernel/thread stays architecture-neutral.
type FrameFactory func(entry, sp uintptr, arg uint64) cpu.ContextFrame

var frameFactory FrameFactory

// SetFrameFactory installs the active architecture's context-frame
// constructor. Called once during board init.
func SetFrameFactory(f FrameFactory) { frameFactory = f }

var errNoFrameFactory = &kernel.Error{Module: "thread", Message: "no context-frame factory installed"}

// NewUser allocates a TID and a NotRunnable user-mode thread bound to
// asid, with parent as its destroy-authority link (spec.md §4.4).
func NewUser(entry, sp uintptr, arg uint64, asid addrspace.ASID, parent TID) (*Thread, *kernel.Error) {
	return newThread(entry, sp, arg, asid, false, parent, true)
}

// NewUserOrphan allocates a user-mode thread with no destroy-authority
// parent — only the thread itself may destroy it. Used by kernel/event to
// spin up IRQ/fault handler threads, which the kernel tears down directly
// on return rather than through a parent's thread_destroy.
func NewUserOrphan(entry, sp uintptr, arg uint64, asid addrspace.ASID) (*Thread, *kernel.Error) {
	return newThread(entry, sp, arg, asid, false, 0, false)
}

// NewKernel allocates a TID and a NotRunnable kernel-mode thread. Kernel
// threads have no owning address space and, unless explicitly given one,
// no parent.
func NewKernel(entry, sp uintptr, arg uint64, parent TID, hasParent bool) (*Thread, *kernel.Error) {
	return newThread(entry, sp, arg, 0, true, parent, hasParent)
}

func newThread(entry, sp uintptr, arg uint64, asid addrspace.ASID, kernelMode bool, parent TID, hasParent bool) (*Thread, *kernel.Error) {
	if frameFactory == nil {
		return nil, errNoFrameFactory
	}
	id, err := globalTable.allocTID()
	if err != nil {
		return nil, err
	}

	t := &Thread{
		tid:        id,
		asid:       asid,
		kernelMode: kernelMode,
		parent:     parent,
		hasParent:  hasParent,
		status:     NotRunnable,
		ctx:        frameFactory(entry, sp, arg),
	}
	globalTable.insert(t)
	return t, nil
}

// Lookup returns the thread registered under id, or ok=false.
func Lookup(id TID) (*Thread, bool) { return globalTable.get(id) }

// SetStatus transitions tid's status. Runnable hands it to the registered
// Enqueuer, which in kernel/sched puts it on core 0's ready queue.
func SetStatus(tid TID, s Status) *kernel.Error {
	t, ok := globalTable.get(tid)
	if !ok {
		return invalidArgument()
	}
	t.Lock()
	t.SetStatusLocked(s)
	t.Unlock()
	return nil
}

// Destroy tears tid down. Only the thread itself (selfTID == tid) or its
// recorded parent may do so; anyone else gets Denied (spec.md §4.4, S4).
// A tid of 0 in the caller's request is resolved to selfTID by the
// syscall layer before Destroy is ever called — Destroy itself always
// deals in concrete TIDs.
func Destroy(selfTID, tid TID) *kernel.Error {
	t, ok := globalTable.get(tid)
	if !ok {
		return invalidArgument()
	}

	parent, hasParent := t.Parent()
	authorized := tid == selfTID || (hasParent && parent == selfTID)
	if !authorized {
		return denied()
	}

	t.Lock()
	t.dead = true
	t.Unlock()

	globalTable.remove(tid)
	globalTable.freeTID(tid)
	broadcastExit(tid)
	return nil
}

// broadcastExit implements spec.md §4.7's thread-exit event: every thread
// currently in WaitForRequest or WaitForReply with peer == the dying TID
// is unblocked with a sentinel error, so an ITC client can never wedge on
// a server that died mid-rendezvous (testable property 6).
func broadcastExit(dead TID) {
	globalTable.forEach(func(t *Thread) {
		t.Lock()
		peer, hasPeer := t.PeerLocked()
		blocked := t.StatusLocked() == WaitForRequest || t.StatusLocked() == WaitForReply
		if hasPeer && peer == dead && blocked {
			t.SetPeerLocked(0, false)
			t.ctx.SetSyscallResult(cpu.ErrorOut(errors.Code(errors.ErrInvalidArgument)))
			t.SetStatusLocked(Runnable)
		}
		t.Unlock()
	})
}

// destroyAllForASID destroys every thread owned by asid. Registered with
// kernel/addrspace as its ThreadReaper so address_space_destroy can tear
// down a dying address space's threads without addrspace importing thread
// (see kernel/addrspace's ThreadReaper doc comment for the cycle this
// avoids).
func destroyAllForASID(asid addrspace.ASID) {
	var victims []TID
	globalTable.forEach(func(t *Thread) {
		if !t.kernelMode && t.asid == asid {
			victims = append(victims, t.tid)
		}
	})
	for _, tid := range victims {
		if t, ok := globalTable.get(tid); ok {
			t.Lock()
			t.dead = true
			t.Unlock()
		}
		globalTable.remove(tid)
		globalTable.freeTID(tid)
		broadcastExit(tid)
	}
}

func init() {
	addrspace.RegisterThreadReaper(destroyAllForASID)
}

func invalidArgument() *kernel.Error {
	return &kernel.Error{Module: "thread", Message: errors.ErrInvalidArgument.Error()}
}

func denied() *kernel.Error {
	return &kernel.Error{Module: "thread", Message: errors.ErrDenied.Error()}
}
