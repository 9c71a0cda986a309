// Package trap implements the trap dispatcher (component F, spec.md
// §4.6): classifying an architectural exception and routing it to the
// syscall layer, the COW fault handler, the event router, or a panic.
// Grounded on rustpie/src/arch/aarch64/exception.rs's
// lower_aarch64_synchronous/lower_aarch64_irq dispatch shape and
// gopheros/kernel/irq/handler_amd64.go's ExceptionHandler naming.
package trap

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/event"
	"github.com/nazgrel/vespera/kernel/mem/vmm"
	"github.com/nazgrel/vespera/kernel/sched"
	"github.com/nazgrel/vespera/kernel/syscall"
	"github.com/nazgrel/vespera/kernel/thread"
	"github.com/nazgrel/vespera/kernel/vmfault"
)

// Class classifies an architectural trap (spec.md §4.6).
type Class uint8

const (
	ClassSyscall Class = iota
	ClassDataAbort
	ClassInstrAbort
	ClassIRQ
	ClassSError
)

// Fault carries the extra information an abort or IRQ trap needs beyond
// the trapping thread's saved ContextFrame.
type Fault struct {
	FaultVA  uintptr
	IRQ      int
	FromUser bool
}

var timerIRQ = -1

// SetTimerIRQ records which IRQ number the timer fires on (board.Config's
// TimerIRQ), so handleIRQ can tell a tick from every other interrupt.
func SetTimerIRQ(irq int) { timerIRQ = irq }

// Dispatch routes one architectural trap. By the time Dispatch is called,
// the (unmodeled) entry stub has already saved the full register file
// into t's ContextFrame and recorded it as c's serviced context (spec.md
// §4.6 step 1-2). On return, the caller is responsible for restoring
// *current*'s frame — which Dispatch may have changed via c.Schedule —
// and executing ERET/SRET; that final step has no Go-expressible
// equivalent and is left to the architecture-specific boot harness.
func Dispatch(c *sched.CPU, t *thread.Thread, class Class, f Fault, alloc vmm.FrameAllocator) {
	t.Lock()
	frame := t.ContextLocked()
	t.Unlock()

	switch class {
	case ClassSyscall:
		res, _ := syscall.Dispatch(t, frame)
		if !res.Blocking {
			frame.SetSyscallResult(res.Out)
		}
		c.Schedule()
	case ClassDataAbort, ClassInstrAbort:
		handleAbort(t, f, alloc)
	case ClassIRQ:
		handleIRQ(c, f.IRQ)
	case ClassSError:
		handleSError(t, f.FromUser)
	}
}

func handleAbort(t *thread.Thread, f Fault, alloc vmm.FrameAllocator) {
	if !f.FromUser {
		kernel.Panic(&kernel.Error{Module: "trap", Message: "abort trapped from kernel mode"})
		return
	}

	as, ok := addrspace.Lookup(t.ASID())
	if !ok {
		parkFaulted(t)
		return
	}

	if err := vmfault.HandleWrite(as, f.FaultVA, alloc); err != nil {
		parkFaulted(t)
	}
}

func parkFaulted(t *thread.Thread) {
	event.SignalThreadFault(t)
	_ = thread.SetStatus(t.TID(), thread.NotRunnable)
}

func handleIRQ(c *sched.CPU, irq int) {
	if irq == timerIRQ {
		sched.Tick(c)
		return
	}
	_, _ = event.Fire(irq)
}

func handleSError(t *thread.Thread, fromUser bool) {
	if !fromUser {
		kernel.Panic(&kernel.Error{Module: "trap", Message: "SError trapped from kernel mode"})
		return
	}
	_ = thread.Destroy(t.TID(), t.TID())
}
