package event

import (
	"testing"

	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/thread"
)

type fakeFrame struct {
	result cpu.SyscallOut
}

func (f *fakeFrame) PC() uintptr                         { return 0 }
func (f *fakeFrame) SetPC(uintptr)                       {}
func (f *fakeFrame) SP() uintptr                         { return 0 }
func (f *fakeFrame) SetSP(uintptr)                        {}
func (f *fakeFrame) SyscallNumber() uint64               { return 0 }
func (f *fakeFrame) SyscallArgument(i int) uint64        { return 0 }
func (f *fakeFrame) SetSyscallResult(out cpu.SyscallOut) { f.result = out }

func TestMain(m *testing.M) {
	thread.SetFrameFactory(func(entry, sp uintptr, arg uint64) cpu.ContextFrame {
		return &fakeFrame{}
	})
	m.Run()
}

func TestFireUnregisteredIRQFails(t *testing.T) {
	if _, err := Fire(999); err == nil {
		t.Fatal("expected Fire against an unregistered IRQ to fail")
	}
}

func TestFireCreatesOrphanHandlerThread(t *testing.T) {
	RegisterHandler(7, addrspace.ASID(1), 0x4000, 0x8000)

	tid, err := Fire(7)
	if err != nil {
		t.Fatal(err)
	}

	handler, ok := thread.Lookup(tid)
	if !ok {
		t.Fatal("expected the fired handler thread to be registered")
	}
	if _, hasParent := handler.Parent(); hasParent {
		t.Fatal("expected the IRQ handler thread to be an orphan (no destroy-authority parent)")
	}
	handler.Lock()
	status := handler.StatusLocked()
	handler.Unlock()
	if status != thread.Runnable {
		t.Fatalf("expected the handler thread to start Runnable; got %v", status)
	}
}

func TestFinishDestroysHandlerThread(t *testing.T) {
	RegisterHandler(8, addrspace.ASID(1), 0, 0)
	tid, err := Fire(8)
	if err != nil {
		t.Fatal(err)
	}
	if err := Finish(tid); err != nil {
		t.Fatalf("expected Finish to tear down the handler thread: %v", err)
	}
	if _, ok := thread.Lookup(tid); ok {
		t.Fatal("expected the handler thread to be gone after Finish")
	}
}

func TestSignalThreadFaultWakesWaitingParent(t *testing.T) {
	parent, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	parent.Lock()
	parent.SetStatusLocked(thread.WaitForRequest)
	parent.Unlock()

	child, err := thread.NewUser(0, 0, 0, addrspace.ASID(1), parent.TID())
	if err != nil {
		t.Fatal(err)
	}

	SignalThreadFault(child)

	parent.Lock()
	status := parent.StatusLocked()
	result := parent.ContextLocked().(*fakeFrame).result
	parent.Unlock()

	if status != thread.Runnable {
		t.Fatalf("expected the parent to be woken; got status %v", status)
	}
	vals := result.Values()
	if vals[0] != uint64(child.TID()) {
		t.Fatalf("expected the fault pentad to carry the faulting child's TID; got %d", vals[0])
	}
	if vals[1] != uint64(errors.InvalidArgument) {
		t.Fatalf("expected the fault sentinel code; got %d", vals[1])
	}
}

func TestSignalThreadFaultNoopWithoutParent(t *testing.T) {
	orphan, err := thread.NewUserOrphan(0, 0, 0, addrspace.ASID(1))
	if err != nil {
		t.Fatal(err)
	}
	// Must not panic when there is no parent to notify.
	SignalThreadFault(orphan)
}
