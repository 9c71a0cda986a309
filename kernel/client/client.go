// Package client is the thread/ITC client surface spec.md §1 budgets
// ~200 lines for but never names: a thin in-process API standing in for
// the user-mode syscall-trapping shim a real target would need. Mirrors
// rustpie's lib/microcall surface (inferred from its call sites in
// user/src/fork.rs: mem_map, address_space_alloc, event_handler,
// thread_set_status) and lib/libtrusted/src/thread/thread_parker.rs's
// Parker-backed retry loop.
//
// Call/Receive go straight to kernel/itc rather than through kernel/syscall's
// ContextFrame-encoded ABI: there is no real trap instruction to execute
// in this simulation, so the client operates one layer below where a real
// user-mode shim would sit. A genuine architecture port would instead
// issue SVC/ECALL and let kernel/trap + kernel/syscall do this package's
// job.
package client

import (
	"time"

	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/itc"
	"github.com/nazgrel/vespera/kernel/sync"
	"github.com/nazgrel/vespera/kernel/thread"
)

// pollInterval stands in for "rescheduled the instant status changes": a
// real client never polls, it's simply not running until the kernel
// switches back to it. Lacking a scheduler-driven goroutine runtime, a
// short Parker-backed wait between checks is the closest faithful
// simulation, bounded tightly enough not to matter to any test's timing.
const pollInterval = 50 * time.Microsecond

// Call performs itc_call, retrying on HoldOn with a Parker-backed pause
// between attempts rather than busy-spinning (spec.md §7's O(1),
// no-priority-inversion design choice: "the kernel never queues callers...
// caller retries after yield"), then waits for the reply and decodes it.
func Call(self *thread.Thread, target thread.TID, a, b, c, d uint64) (itc.Message, *errors.KernelError) {
	parker := sync.NewParker()

	for {
		err := itc.Call(self, target, a, b, c, d)
		if err == nil {
			break
		}
		if err.Error() == errors.ErrHoldOn.Error() {
			Yield(parker)
			continue
		}
		ke := errors.KernelError(err.Error())
		return itc.Message{}, &ke
	}

	waitForRunnable(self, parker)
	return readDelivered(self), nil
}

// Send performs itc_send: an immediate reply delivery, never blocking.
func Send(self *thread.Thread, target thread.TID, a, b, c, d uint64) *errors.KernelError {
	if err := itc.Send(self, target, a, b, c, d); err != nil {
		ke := errors.KernelError(err.Error())
		return &ke
	}
	return nil
}

// Receive performs itc_receive and blocks until a request is delivered.
func Receive(self *thread.Thread) itc.Message {
	itc.Receive(self)
	parker := sync.NewParker()
	waitForRunnable(self, parker)
	return readDelivered(self)
}

// Yield stands in for thread_yield: a client that cannot make progress
// (HoldOn from Call, or simply wanting to give up its quantum) pauses
// briefly rather than spinning.
func Yield(parker *sync.Parker) {
	parker.ParkTimeout(pollInterval)
}

func waitForRunnable(self *thread.Thread, parker *sync.Parker) {
	for {
		self.Lock()
		status := self.StatusLocked()
		self.Unlock()
		if status == thread.Runnable {
			return
		}
		parker.ParkTimeout(pollInterval)
	}
}

// readDelivered decodes the Pentad(sender_tid, a, b, c, d) an itc_call or
// itc_receive delivery wrote into self's context. This relies on the
// architectural coincidence (true on both AArch64 and RISC-V) that a
// syscall's argument registers and its return-value registers are the
// same physical slots — SyscallArgument(i) reads back exactly what
// SetSyscallResult(PentadOut(...)) wrote.
func readDelivered(self *thread.Thread) itc.Message {
	self.Lock()
	ctx := self.ContextLocked()
	self.Unlock()

	return itc.Message{
		Sender: thread.TID(ctx.SyscallArgument(0)),
		A:      ctx.SyscallArgument(1),
		B:      ctx.SyscallArgument(2),
		C:      ctx.SyscallArgument(3),
		D:      ctx.SyscallArgument(4),
	}
}
