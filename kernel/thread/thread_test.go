package thread

import (
	"testing"

	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/cpu"
)

// fakeFrame is a minimal cpu.ContextFrame double so this package's tests
// don't need to import a concrete architecture (kernel/cpu/arm64 or
// kernel/cpu/riscv64) just to exercise thread lifecycle and locking.
type fakeFrame struct {
	pc, sp uintptr
	arg    uint64
	result cpu.SyscallOut
}

func (f *fakeFrame) PC() uintptr          { return f.pc }
func (f *fakeFrame) SetPC(pc uintptr)     { f.pc = pc }
func (f *fakeFrame) SP() uintptr          { return f.sp }
func (f *fakeFrame) SetSP(sp uintptr)     { f.sp = sp }
func (f *fakeFrame) SyscallNumber() uint64 { return 0 }
func (f *fakeFrame) SyscallArgument(i int) uint64 {
	if i == 0 {
		return f.arg
	}
	return 0
}
func (f *fakeFrame) SetSyscallResult(out cpu.SyscallOut) { f.result = out }

func TestMain(m *testing.M) {
	SetFrameFactory(func(entry, sp uintptr, arg uint64) cpu.ContextFrame {
		return &fakeFrame{pc: entry, sp: sp, arg: arg}
	})
	m.Run()
}

func TestNewUserStartsNotRunnable(t *testing.T) {
	parent, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	tr, err := NewUser(0x1000, 0x2000, 7, addrspace.ASID(1), parent.TID())
	if err != nil {
		t.Fatal(err)
	}

	tr.Lock()
	status := tr.StatusLocked()
	tr.Unlock()
	if status != NotRunnable {
		t.Fatalf("expected a freshly created thread to be NotRunnable; got %v", status)
	}

	if gotParent, ok := tr.Parent(); !ok || gotParent != parent.TID() {
		t.Fatalf("expected parent %d; got %d (ok=%v)", parent.TID(), gotParent, ok)
	}
}

func TestNewUserOrphanHasNoParent(t *testing.T) {
	tr, err := NewUserOrphan(0, 0, 0, addrspace.ASID(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Parent(); ok {
		t.Fatal("expected an orphan thread to report no parent")
	}
}

func TestDestroyAuthority(t *testing.T) {
	parent, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	child, err := NewUser(0, 0, 0, addrspace.ASID(1), parent.TID())
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := Destroy(stranger.TID(), child.TID()); err == nil {
		t.Fatal("expected a non-parent, non-self destroy to be denied")
	}
	if _, ok := Lookup(child.TID()); !ok {
		t.Fatal("a denied Destroy must not remove the thread")
	}

	if err := Destroy(parent.TID(), child.TID()); err != nil {
		t.Fatalf("expected the parent to be authorized to destroy its child: %v", err)
	}
	if _, ok := Lookup(child.TID()); ok {
		t.Fatal("expected the thread to be gone after an authorized Destroy")
	}
}

func TestDestroySelf(t *testing.T) {
	solo, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := Destroy(solo.TID(), solo.TID()); err != nil {
		t.Fatalf("expected self-destroy to be authorized: %v", err)
	}
}

func TestDestroyWakesPeerWaitingOnDeadThread(t *testing.T) {
	victim, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	waiter, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	waiter.Lock()
	waiter.SetPeerLocked(victim.TID(), true)
	waiter.SetStatusLocked(WaitForRequest)
	waiter.Unlock()

	if err := Destroy(victim.TID(), victim.TID()); err != nil {
		t.Fatal(err)
	}

	waiter.Lock()
	status := waiter.StatusLocked()
	_, hasPeer := waiter.PeerLocked()
	waiter.Unlock()

	if status != Runnable {
		t.Fatalf("expected broadcastExit to wake the peer waiting on the dead thread; got status %v", status)
	}
	if hasPeer {
		t.Fatal("expected the peer filter to be cleared on wake-up")
	}
}

func TestStatusRunnabilityCollapsesBlockedStates(t *testing.T) {
	specs := []struct {
		status Status
		exp    uint8
	}{
		{Runnable, 1},
		{WaitForRequest, 2},
		{WaitForReply, 2},
		{Sleep, 2},
		{NotRunnable, 2},
		{Idle, 2},
	}
	for _, spec := range specs {
		if got := spec.status.Runnability(); got != spec.exp {
			t.Errorf("%v.Runnability(): expected %d; got %d", spec.status, spec.exp, got)
		}
	}
}

func TestSetStatusRunnableInvokesEnqueuer(t *testing.T) {
	tr, err := NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	var enqueued TID
	prev := enqueuer
	RegisterEnqueuer(func(t *Thread) { enqueued = t.TID() })
	defer func() { enqueuer = prev }()

	if err := SetStatus(tr.TID(), Runnable); err != nil {
		t.Fatal(err)
	}
	if enqueued != tr.TID() {
		t.Fatalf("expected the registered enqueuer to run for TID %d; got %d", tr.TID(), enqueued)
	}
}
