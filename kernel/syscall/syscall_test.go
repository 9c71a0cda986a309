package syscall

import (
	"testing"

	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/mem/pmm"
	"github.com/nazgrel/vespera/kernel/mem/vmm"
	"github.com/nazgrel/vespera/kernel/thread"
)

// fakeFrame is a settable cpu.ContextFrame double: tests populate args
// directly rather than encoding them through a real architecture's
// register layout.
type fakeFrame struct {
	num    uint64
	args   [8]uint64
	result cpu.SyscallOut
}

func (f *fakeFrame) PC() uintptr                  { return 0 }
func (f *fakeFrame) SetPC(uintptr)                {}
func (f *fakeFrame) SP() uintptr                  { return 0 }
func (f *fakeFrame) SetSP(uintptr)                {}
func (f *fakeFrame) SyscallNumber() uint64        { return f.num }
func (f *fakeFrame) SyscallArgument(i int) uint64 { return f.args[i] }
func (f *fakeFrame) SetSyscallResult(out cpu.SyscallOut) { f.result = out }

func TestMain(m *testing.M) {
	thread.SetFrameFactory(func(entry, sp uintptr, arg uint64) cpu.ContextFrame {
		return &fakeFrame{}
	})
	m.Run()
}

func newCaller(t *testing.T, asid addrspace.ASID) *thread.Thread {
	t.Helper()
	tr, err := thread.NewUser(0, 0, 0, asid, 0)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestDispatchUnknownSyscallNumber(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(1))
	f := &fakeFrame{num: uint64(numSyscalls) + 5}

	res, err := Dispatch(caller, f)
	if err != nil {
		t.Fatalf("Dispatch itself should not error on an unknown number: %v", err)
	}
	if res.Out.Kind() != cpu.KindError || res.Out.Values()[0] != errors.InvalidArgument {
		t.Fatalf("expected ErrorOut(InvalidArgument); got %+v", res.Out)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	prev := table[Null]
	table[Null] = func(*thread.Thread, cpu.ContextFrame) (Result, *kernel.Error) { panic("boom") }
	defer func() { table[Null] = prev }()

	caller := newCaller(t, addrspace.ASID(1))
	f := &fakeFrame{num: uint64(Null)}
	res, _ := Dispatch(caller, f)
	if res.Out.Kind() != cpu.KindError || res.Out.Values()[0] != errors.Panicked {
		t.Fatalf("expected the catch-panic boundary to yield Panicked; got %+v", res.Out)
	}
}

func TestGetTIDReturnsCaller(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(1))
	res, err := Dispatch(caller, &fakeFrame{num: uint64(GetTID)})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Out.Values()[0]; got != uint64(caller.TID()) {
		t.Fatalf("expected get_tid to return %d; got %d", caller.TID(), got)
	}
}

func TestGetASIDResolvesSelfSentinel(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(7))
	res, err := Dispatch(caller, &fakeFrame{num: uint64(GetASID), args: [8]uint64{0}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Out.Values()[0]; got != 7 {
		t.Fatalf("expected asid 7 for the \"current\" (tid=0) sentinel; got %d", got)
	}
}

func TestMemAllocMapMapsIntoBothAddressSpaces(t *testing.T) {
	Init(pmm.NewBitmapAllocator(256))

	srcAS, err := addrspace.Alloc(frameAlloc)
	if err != nil {
		t.Fatal(err)
	}
	dstAS, err := addrspace.Alloc(frameAlloc)
	if err != nil {
		t.Fatal(err)
	}
	caller := newCaller(t, srcAS.ASID())

	srcVA := uint64(0x1000)
	allocFrame := &fakeFrame{num: uint64(MemAlloc), args: [8]uint64{0, srcVA, uint64(vmm.Readable | vmm.Writable)}}
	if _, err := Dispatch(caller, allocFrame); err != nil {
		t.Fatalf("mem_alloc failed: %v", err)
	}

	dstVA := uint64(0x2000)
	mapFrame := &fakeFrame{num: uint64(MemMap), args: [8]uint64{uint64(srcAS.ASID()), srcVA, uint64(dstAS.ASID()), dstVA, uint64(vmm.Readable)}}
	if _, err := Dispatch(caller, mapFrame); err != nil {
		t.Fatalf("mem_map failed: %v", err)
	}

	srcFrame, _, ok := srcAS.PageTable().Lookup(uintptr(srcVA))
	if !ok {
		t.Fatal("expected the source mapping to still exist")
	}
	dstFrame, _, ok := dstAS.PageTable().Lookup(uintptr(dstVA))
	if !ok || dstFrame != srcFrame {
		t.Fatalf("expected mem_map to alias the same frame into the destination; got ok=%v frame=%d want=%d", ok, dstFrame, srcFrame)
	}
	if exp, got := uint32(2), frameAlloc.RefCount(srcFrame); got != exp {
		t.Fatalf("expected refcount %d after sharing; got %d", exp, got)
	}

	unmapFrame := &fakeFrame{num: uint64(MemUnmap), args: [8]uint64{uint64(dstAS.ASID()), dstVA}}
	if _, err := Dispatch(caller, unmapFrame); err != nil {
		t.Fatalf("mem_unmap failed: %v", err)
	}
	if _, _, ok := dstAS.PageTable().Lookup(uintptr(dstVA)); ok {
		t.Fatal("expected the destination mapping to be gone after mem_unmap")
	}
}

func TestAddressSpaceAllocCreatesMainThread(t *testing.T) {
	Init(pmm.NewBitmapAllocator(64))
	caller := newCaller(t, addrspace.ASID(1))

	res, err := Dispatch(caller, &fakeFrame{num: uint64(AddressSpaceAlloc)})
	if err != nil {
		t.Fatal(err)
	}
	vals := res.Out.Values()
	newASID := addrspace.ASID(vals[0])
	mainTID := thread.TID(vals[1])

	if _, ok := addrspace.Lookup(newASID); !ok {
		t.Fatal("expected the new address space to be registered")
	}
	mainThread, ok := thread.Lookup(mainTID)
	if !ok {
		t.Fatal("expected the new address space's main thread to be registered")
	}
	if mainThread.ASID() != newASID {
		t.Fatalf("expected the main thread's ASID to be %d; got %d", newASID, mainThread.ASID())
	}
	if parent, hasParent := mainThread.Parent(); !hasParent || parent != caller.TID() {
		t.Fatalf("expected the caller to be the main thread's destroy-authority parent")
	}
}

func TestThreadSetStatusRejectsUnknownValue(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(1))
	res, err := Dispatch(caller, &fakeFrame{num: uint64(ThreadSetStatus), args: [8]uint64{0, 99}})
	if err != nil {
		t.Fatalf("Dispatch itself should not error; got %v", err)
	}
	if res.Out.Kind() != cpu.KindError || res.Out.Values()[0] != errors.InvalidArgument {
		t.Fatalf("expected an unknown status value to yield ErrorOut(InvalidArgument); got %+v", res.Out)
	}
}

func TestServerRegisterAndLookup(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(1))
	const name = uint64(0xC0FFEE)

	if _, err := Dispatch(caller, &fakeFrame{num: uint64(ServerRegister), args: [8]uint64{name}}); err != nil {
		t.Fatal(err)
	}

	res, err := Dispatch(caller, &fakeFrame{num: uint64(ServerTID), args: [8]uint64{name}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Out.Kind() != cpu.KindSingle || res.Out.Values()[0] != uint64(caller.TID()) {
		t.Fatalf("expected server_tid to resolve the registered name to %d; got %+v", caller.TID(), res.Out)
	}
}

func TestServerTIDUnknownNameIsInvalidArgument(t *testing.T) {
	caller := newCaller(t, addrspace.ASID(1))
	res, err := Dispatch(caller, &fakeFrame{num: uint64(ServerTID), args: [8]uint64{0xDEAD}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Out.Kind() != cpu.KindError || res.Out.Values()[0] != errors.InvalidArgument {
		t.Fatalf("expected an unregistered server name to fail with InvalidArgument; got %+v", res.Out)
	}
}

func TestITCReceiveAndCallReportBlocking(t *testing.T) {
	Init(pmm.NewBitmapAllocator(8))
	server := newCaller(t, addrspace.ASID(1))
	client := newCaller(t, addrspace.ASID(1))

	res, err := Dispatch(server, &fakeFrame{num: uint64(ITCReceive)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Blocking {
		t.Fatal("expected itc_receive to report Blocking")
	}

	callRes, err := Dispatch(client, &fakeFrame{num: uint64(ITCCall), args: [8]uint64{uint64(server.TID()), 1, 2, 3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if !callRes.Blocking {
		t.Fatal("expected a successful itc_call to report Blocking")
	}
}

func TestIPCCanSendPredicate(t *testing.T) {
	server := newCaller(t, addrspace.ASID(1))
	client := newCaller(t, addrspace.ASID(1))

	before, err := Dispatch(client, &fakeFrame{num: uint64(IPCCanSend), args: [8]uint64{uint64(server.TID())}})
	if err != nil {
		t.Fatal(err)
	}
	if got := before.Out.Values()[0]; got != 0 {
		t.Fatalf("expected ipc_can_send to be false before the server receives; got %d", got)
	}

	if _, err := Dispatch(server, &fakeFrame{num: uint64(ITCReceive)}); err != nil {
		t.Fatal(err)
	}

	after, err := Dispatch(client, &fakeFrame{num: uint64(IPCCanSend), args: [8]uint64{uint64(server.TID())}})
	if err != nil {
		t.Fatal(err)
	}
	if got := after.Out.Values()[0]; got != 1 {
		t.Fatalf("expected ipc_can_send to be true once the server is receiving; got %d", got)
	}
}
