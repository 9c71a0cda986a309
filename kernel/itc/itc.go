// Package itc implements the synchronous ITC rendezvous (component H,
// spec.md §4.5) — the hardest module in the spec. Grounded directly on
// rustpie/src/syscall/ipc.rs's itc_receive/itc_send/itc_call and
// rustpie/src/lib/thread.rs's receivable/peer/set_peer/clear_peer.
//
// Unlike a real kernel this package never parks a goroutine: itc_receive
// simply marks the caller WaitForRequest and returns to the dispatcher,
// exactly as the reference kernel's syscall handler does (the thread only
// actually stops running once the dispatcher falls through to
// schedule()). The Pentad a receiver eventually observes is written
// directly into its saved ContextFrame by whichever itc_call/itc_send
// later delivers to it; it becomes visible to user code only once the
// thread is rescheduled and the trap-exit path restores that frame.
package itc

import (
	"sync"

	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/thread"
)

// Message is the 4 user data words plus sender identity spec.md §4.5
// mandates on every delivery.
type Message struct {
	Sender     thread.TID
	A, B, C, D uint64
}

// Out encodes m as the Pentad(sender_tid, a, b, c, d) a successful
// itc_receive/itc_call/itc_send observes (spec.md §4.6).
func (m Message) Out() cpu.SyscallOut {
	return cpu.PentadOut(uint64(m.Sender), m.A, m.B, m.C, m.D)
}

var (
	errInvalidArgument = &kernel.Error{Module: "itc", Message: errors.ErrInvalidArgument.Error()}
	errDenied          = &kernel.Error{Module: "itc", Message: errors.ErrDenied.Error()}
	errHoldOn          = &kernel.Error{Module: "itc", Message: errors.ErrHoldOn.Error()}
)

// Receive implements itc_receive: unconditionally puts self in
// WaitForRequest. Returns nothing; the Pentad return value materializes
// later, written into self's context by the matching Call/Send.
func Receive(self *thread.Thread) {
	self.Lock()
	self.SetStatusLocked(thread.WaitForRequest)
	self.Unlock()
}

// SetPeerFilter restricts the next Receive's wakeup to sender only
// (spec.md §4.5's peer filter: "a WaitForRequest thread may optionally
// have set peer = Some(t), in which case only t may wake it"). Passing
// ok=false clears the filter so any sender may wake self.
func SetPeerFilter(self *thread.Thread, sender thread.TID, ok bool) {
	self.Lock()
	self.SetPeerLocked(sender, ok)
	self.Unlock()
}

// lockPair acquires both threads' locks in ascending TID order (spec.md
// §5: "ITC acquires exactly two of these in TID order to avoid
// deadlock"), closing the gap the teacher's looser per-field spin::Mutex
// locking left open — with one lock per field, nothing stops a second CPU
// from observing and mutating the target between the status check and
// the register-file write. Acquiring both thread locks up front makes
// the whole read-check-write sequence atomic with respect to every other
// caller touching either thread.
func lockPair(a, b *thread.Thread) {
	if a.TID() == b.TID() {
		a.Lock()
		return
	}
	first, second := a, b
	if b.TID() < a.TID() {
		first, second = b, a
	}
	first.Lock()
	second.Lock()
}

func unlockPair(a, b *thread.Thread) {
	if a.TID() == b.TID() {
		a.Unlock()
		return
	}
	a.Unlock()
	b.Unlock()
}

// Call implements itc_call (spec.md §4.5): iff targetTID is WaitForRequest
// and its peer filter accepts caller, atomically delivers the request as
// target's syscall return, wakes target, and places caller in
// WaitForReply so the subsequent reply can find its way back. Otherwise
// fails HoldOn (the caller is expected to thread_yield and retry; the
// kernel never queues callers, per spec.md §7's O(1)/no-priority-inversion
// design choice).
func Call(caller *thread.Thread, targetTID thread.TID, a, b, c, d uint64) *kernel.Error {
	target, ok := thread.Lookup(targetTID)
	if !ok {
		return errInvalidArgument
	}

	lockPair(caller, target)
	defer unlockPair(caller, target)

	if target.DeadLocked() {
		return errInvalidArgument
	}
	if target.StatusLocked() != thread.WaitForRequest {
		return errHoldOn
	}
	if peer, hasPeer := target.PeerLocked(); hasPeer && peer != caller.TID() {
		return errHoldOn
	}

	msg := Message{Sender: caller.TID(), A: a, B: b, C: c, D: d}
	target.ContextLocked().SetSyscallResult(msg.Out())
	target.SetPeerLocked(0, false)
	target.SetStatusLocked(thread.Runnable)

	caller.SetPeerLocked(targetTID, true)
	caller.SetStatusLocked(thread.WaitForReply)

	recordDelivery(targetTID, caller.TID())
	return nil
}

// lastSenderBy tracks, per receiving thread, the TID of whoever most
// recently delivered a request to it via Call. It backs Reply's implicit
// target resolution and is deliberately kept separate from the thread
// table's peer field: peer is the receive-side filter spec.md §4.5
// mandates be "checked and cleared atomically with wake-up", and
// overloading it to also remember the deliverer for Reply would break
// that clearing contract.
var (
	lastSenderMu sync.Mutex
	lastSenderBy = map[thread.TID]thread.TID{}
)

func recordDelivery(receiver, sender thread.TID) {
	lastSenderMu.Lock()
	lastSenderBy[receiver] = sender
	lastSenderMu.Unlock()
}

func lastSender(receiver thread.TID) (thread.TID, bool) {
	lastSenderMu.Lock()
	defer lastSenderMu.Unlock()
	tid, ok := lastSenderBy[receiver]
	return tid, ok
}

// Send implements itc_send (spec.md §4.5): a reply delivery. Succeeds iff
// targetTID is WaitForReply and its recorded peer equals caller;
// atomically writes the reply as target's syscall return and wakes it.
// Otherwise Denied.
func Send(caller *thread.Thread, targetTID thread.TID, a, b, c, d uint64) *kernel.Error {
	target, ok := thread.Lookup(targetTID)
	if !ok {
		return errInvalidArgument
	}

	lockPair(caller, target)
	defer unlockPair(caller, target)

	if target.DeadLocked() {
		return errInvalidArgument
	}
	if target.StatusLocked() != thread.WaitForReply {
		return errDenied
	}
	peer, hasPeer := target.PeerLocked()
	if !hasPeer || peer != caller.TID() {
		return errDenied
	}

	msg := Message{Sender: caller.TID(), A: a, B: b, C: c, D: d}
	target.ContextLocked().SetSyscallResult(msg.Out())
	target.SetPeerLocked(0, false)
	target.SetStatusLocked(thread.Runnable)
	return nil
}

// Reply implements itc_reply (syscall #18): sends (a,b,c,d) to whichever
// thread most recently itc_call'd self, via Send. The ABI table lists
// itc_reply with no arguments beyond the 4 data words; this is the
// interpretation consistent with itc_send already covering the
// explicit-target case (see DESIGN.md).
func Reply(self *thread.Thread, a, b, c, d uint64) *kernel.Error {
	sender, ok := lastSender(self.TID())
	if !ok {
		return errDenied
	}
	return Send(self, sender, a, b, c, d)
}
