package sched

import (
	"testing"

	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/thread"
)

type fakeFrame struct{ result cpu.SyscallOut }

func (f *fakeFrame) PC() uintptr                         { return 0 }
func (f *fakeFrame) SetPC(uintptr)                       {}
func (f *fakeFrame) SP() uintptr                         { return 0 }
func (f *fakeFrame) SetSP(uintptr)                       {}
func (f *fakeFrame) SyscallNumber() uint64               { return 0 }
func (f *fakeFrame) SyscallArgument(i int) uint64        { return 0 }
func (f *fakeFrame) SetSyscallResult(out cpu.SyscallOut) { f.result = out }

func TestMain(m *testing.M) {
	thread.SetFrameFactory(func(entry, sp uintptr, arg uint64) cpu.ContextFrame {
		return &fakeFrame{}
	})
	m.Run()
}

func newRunnable(t *testing.T) *thread.Thread {
	t.Helper()
	tr, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	tr.Lock()
	tr.SetStatusLocked(thread.Runnable)
	tr.Unlock()
	return tr
}

func TestScheduleFallsBackToIdleWhenQueueEmpty(t *testing.T) {
	idle, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCPU(0, idle)

	if got := c.Schedule(); got != idle {
		t.Fatalf("expected Schedule to fall back to the idle thread; got tid=%d", got.TID())
	}
}

func TestScheduleRoundRobin(t *testing.T) {
	idle, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCPU(0, idle)

	a := newRunnable(t)
	b := newRunnable(t)
	c.Enqueue(a)
	c.Enqueue(b)

	if got := c.Schedule(); got != a {
		t.Fatalf("expected first Schedule to pick the head of the queue (a); got tid=%d", got.TID())
	}
	if got := c.Schedule(); got != b {
		t.Fatalf("expected second Schedule to pick b; got tid=%d", got.TID())
	}
	// a was requeued at the tail because it was still Runnable.
	if got := c.Schedule(); got != a {
		t.Fatalf("expected a to be requeued at the tail and come up third; got tid=%d", got.TID())
	}
}

func TestScheduleDoesNotRequeueNonRunnableOutgoing(t *testing.T) {
	idle, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCPU(0, idle)

	blocked := newRunnable(t)
	c.Enqueue(blocked)
	if got := c.Schedule(); got != blocked {
		t.Fatal("expected blocked thread to become current")
	}

	// It blocks in ITC before the next tick.
	blocked.Lock()
	blocked.SetStatusLocked(thread.WaitForRequest)
	blocked.Unlock()

	if got := c.Schedule(); got != idle {
		t.Fatalf("expected Schedule to fall back to idle once the outgoing thread is no longer Runnable; got tid=%d", got.TID())
	}
}

func TestInitRegistersEnqueuer(t *testing.T) {
	idle, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	Init([]*thread.Thread{idle})

	if got := Count(); got != 1 {
		t.Fatalf("expected Count() %d; got %d", 1, got)
	}

	tr, err := thread.NewKernel(0, 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := thread.SetStatus(tr.TID(), thread.Runnable); err != nil {
		t.Fatal(err)
	}

	if got := Tick(Get(0)); got != tr {
		t.Fatalf("expected the newly Runnable thread to be enqueued onto core 0 and scheduled next; got tid=%d", got.TID())
	}
}
