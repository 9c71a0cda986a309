// Package addrspace implements the address-space table (component C):
// ASID allocation, the root page table each address space owns, and
// teardown of every mapping (plus every thread bound to the address
// space) on destroy.
//
// Grounded on rustpie's lib::address_space (inferred from its call sites
// in src/syscall/*.rs and user/src/fork.rs — the file itself wasn't
// retrieved into the pack; see DESIGN.md) and on gopheros' convention of a
// single module-scoped store initialized once at boot rather than a lazy
// singleton (spec §9 DESIGN NOTES, "Global mutable tables").
package addrspace

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/mem/pmm"
	"github.com/nazgrel/vespera/kernel/mem/vmm"
	"github.com/nazgrel/vespera/kernel/sync"
)

// ASID is a 16-bit address-space identifier. 0 is reserved and always
// means "the caller's current address space" at the syscall boundary; it
// is never assigned to a real AddressSpace.
type ASID uint16

// AddressSpace owns one address space's root page table and ASID slot.
// Every user virtual address mapped through it must lie in [0, UserLimit).
type AddressSpace struct {
	asid ASID
	mu   sync.Spinlock
	pt   *vmm.PageTable
}

// UserLimit is the exclusive upper bound of the user-mappable virtual
// address range (spec §3's invariant on every AddressSpace).
const UserLimit = uintptr(1) << 47

// ASID returns the address space's identifier.
func (as *AddressSpace) ASID() ASID { return as.asid }

// PageTable returns the address space's root page table. Callers must
// hold no expectations about internal locking beyond what vmm.PageTable
// itself documents. The mutex here is taken only by Destroy, around the
// page-table teardown; mappings made through the returned PageTable do
// not take it.
func (as *AddressSpace) PageTable() *vmm.PageTable { return as.pt }

var (
	errNoSpace = &kernel.Error{Module: "addrspace", Message: "ASID space exhausted"}
)

// ThreadReaper is invoked by Destroy before the page table is torn down,
// so that every thread bound to the dying address space can be destroyed
// first. kernel/thread registers itself as the reaper during boot
// (RegisterThreadReaper) rather than addrspace importing kernel/thread
// directly, which would create an import cycle (a Thread's owning address
// space is itself an addrspace.ASID). This is the same "break the cycle
// with a registered callback instead of a strong reference" pattern spec
// §9 prescribes for the thread<->peer relationship, applied to the
// address-space<->thread relationship instead.
type ThreadReaper func(asid ASID)

var reaper ThreadReaper

// RegisterThreadReaper installs the callback Destroy uses to tear down
// every thread owned by a dying address space. Must be called exactly
// once during boot, before any Destroy call.
func RegisterThreadReaper(r ThreadReaper) {
	reaper = r
}

// Alloc atomically allocates an ASID, creates a root page table, and
// registers the new address space in the global table. It does not create
// the address space's main thread — that is the syscall layer's job
// (address_space_alloc composes addrspace.Alloc with thread.NewUser),
// matching spec §4.3's note that fork-the-syscall does not exist: the
// kernel only ever hands out bare address spaces.
func Alloc(alloc vmm.FrameAllocator) (*AddressSpace, *kernel.Error) {
	id, err := globalTable.allocASID()
	if err != nil {
		return nil, err
	}

	pt, err := vmm.NewPageTable(alloc)
	if err != nil {
		globalTable.freeASID(id)
		return nil, err
	}

	as := &AddressSpace{asid: id, pt: pt}
	globalTable.insert(as)
	return as, nil
}

// Lookup returns the address space registered under id, or ok=false.
func Lookup(id ASID) (*AddressSpace, bool) {
	return globalTable.get(id)
}

// Destroy tears down every thread bound to id (via the registered
// ThreadReaper), releases every page-table mapping (dropping the
// underlying frames' reference counts), and frees the ASID slot.
func Destroy(id ASID, alloc vmm.FrameAllocator) *kernel.Error {
	as, ok := globalTable.get(id)
	if !ok {
		return kernelErrInvalidArgument()
	}

	if reaper != nil {
		reaper(id)
	}

	as.mu.Acquire()
	as.pt.Destroy(alloc)
	as.mu.Release()

	globalTable.remove(id)
	globalTable.freeASID(id)
	return nil
}

func kernelErrInvalidArgument() *kernel.Error {
	return &kernel.Error{Module: "addrspace", Message: errors.ErrInvalidArgument.Error()}
}

// dropFrame is a tiny convenience so callers that only have a raw
// pmm.BitmapAllocator (which satisfies vmm.FrameAllocator) don't need to
// import pmm themselves just to call DropRef on a single frame outside of
// a page-table walk. It is unexported and nothing in this package calls
// it; kernel/vmfault drops references through vmm.PageTable.Remove.
func dropFrame(alloc vmm.FrameAllocator, f pmm.Frame) { alloc.DropRef(f) }
