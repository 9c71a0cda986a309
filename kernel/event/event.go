// Package event implements the event/interrupt router (component I,
// spec.md §4.7): IRQ → (asid, entry, sp) handler registration, firing a
// fresh handler thread on delivery, and signalling a faulting thread's
// parent when a page fault goes unhandled (an SError from user mode is
// handled in kernel/trap by destroying the thread, without a signal).
//
// The thread-exit signal spec.md §4.7 also describes lives in
// kernel/thread (broadcastExit, called directly from Destroy) rather than
// here — see DESIGN.md for why co-locating it with the thread table that
// owns (status, peer) avoids a needless import back into kernel/event.
package event

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/sync"
	"github.com/nazgrel/vespera/kernel/thread"
)

// registration is what event_handler records for one IRQ number.
type registration struct {
	asid  addrspace.ASID
	entry uintptr
	sp    uintptr
}

var (
	mu       sync.Spinlock
	handlers = map[int]registration{}
)

var errNotRegistered = &kernel.Error{Module: "event", Message: errors.ErrInvalidArgument.Error()}

// RegisterHandler implements event_handler(asid, entry, sp, irq): records
// (asid, entry, sp) as irq's handler template, replacing any prior
// registration.
func RegisterHandler(irq int, asid addrspace.ASID, entry, sp uintptr) {
	mu.Acquire()
	handlers[irq] = registration{asid: asid, entry: entry, sp: sp}
	mu.Release()
}

// Fire implements the IRQ delivery path for a non-timer interrupt
// (spec.md §4.7): creates a fresh Runnable thread at the registered
// entry/sp in the registered address space, carrying irq as its argument
// register. Returns ErrInvalidArgument if irq has no registered handler.
func Fire(irq int) (thread.TID, *kernel.Error) {
	mu.Acquire()
	reg, ok := handlers[irq]
	mu.Release()
	if !ok {
		return 0, errNotRegistered
	}

	t, err := thread.NewUserOrphan(reg.entry, reg.sp, uint64(irq), reg.asid)
	if err != nil {
		return 0, err
	}
	if err := thread.SetStatus(t.TID(), thread.Runnable); err != nil {
		return 0, err
	}
	return t.TID(), nil
}

// Finish tears down a handler thread on return from its IRQ (spec.md
// §4.7: "runs it, and destroys it on return").
func Finish(tid thread.TID) *kernel.Error {
	return thread.Destroy(tid, tid)
}

// SignalThreadFault implements spec.md §4.6's "deliver the thread-fault
// signal to the parent via the event mechanism": if t has a parent
// currently blocked in itc_receive (optionally peered specifically on t),
// it is woken with a Pentad carrying t's TID and the fault sentinel
// instead of a normal request, exactly as a dead peer's ITC clients are
// unblocked in kernel/thread's broadcastExit. t itself is left for the
// caller (kernel/trap) to park as NotRunnable.
func SignalThreadFault(t *thread.Thread) {
	parentTID, hasParent := t.Parent()
	if !hasParent {
		return
	}
	parent, ok := thread.Lookup(parentTID)
	if !ok {
		return
	}

	parent.Lock()
	defer parent.Unlock()

	if parent.DeadLocked() || parent.StatusLocked() != thread.WaitForRequest {
		return
	}
	if peer, hasPeer := parent.PeerLocked(); hasPeer && peer != t.TID() {
		return
	}

	parent.ContextLocked().SetSyscallResult(cpu.PentadOut(uint64(t.TID()), uint64(errors.Code(errors.ErrInvalidArgument)), 0, 0, 0))
	parent.SetPeerLocked(0, false)
	parent.SetStatusLocked(thread.Runnable)
}
