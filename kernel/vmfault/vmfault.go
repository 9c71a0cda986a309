// Package vmfault resolves user-mode write faults against copy-on-write
// mappings (spec.md §4.6's page-fault handler, detailed by the recipe in
// rustpie/user/src/fork.rs's duplicate_page — the distilled spec mentions
// COW resolution only in passing ("if a COW leaf is writable-faulting,
// duplicate the frame, re-map writable, resume"); this package supplies
// the concrete mechanics the distillation dropped).
package vmfault

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/mem/vmm"
)

// ErrUnhandled is returned when the faulting va is either unmapped or
// mapped in a way no COW recipe resolves (e.g. a true permission
// violation on a non-COW page). The caller (kernel/trap) treats this as
// an unrecoverable user fault: park the thread, signal its parent.
var ErrUnhandled = &kernel.Error{Module: "vmfault", Message: "unhandled page fault"}

// HandleWrite resolves a write fault at va in as. Three cases, mirroring
// duplicate_page:
//   - va is mapped Shared and Writable: shared pages are re-mapped by
//     reference, never duplicated, so there is nothing to do.
//   - va is mapped Writable and not CopyOnWrite: already writable through
//     unchanged; nothing to do (a spurious or already-resolved fault).
//   - va is mapped CopyOnWrite: allocate a fresh frame, copy the old
//     frame's bytes, remap va Writable without CopyOnWrite, and drop the
//     shared frame's reference count by one.
//
// Anything else (va unmapped, Shared-but-not-Writable, or a read-only page
// without CopyOnWrite) is ErrUnhandled.
func HandleWrite(as *addrspace.AddressSpace, va uintptr, alloc vmm.FrameAllocator) *kernel.Error {
	pt := as.PageTable()

	frame, attr, ok := pt.Lookup(va)
	if !ok {
		return ErrUnhandled
	}

	if attr.Has(vmm.Shared) {
		if attr.Has(vmm.Writable) {
			return nil
		}
		return ErrUnhandled
	}

	if attr.Has(vmm.Writable) && !attr.Has(vmm.CopyOnWrite) {
		return nil
	}

	if !attr.Has(vmm.CopyOnWrite) {
		return ErrUnhandled
	}

	fresh, err := alloc.Alloc()
	if err != nil {
		return err
	}
	kernel.Memcopy(alloc.Arena().Bytes(fresh), alloc.Arena().Bytes(frame))

	newAttr := (attr &^ vmm.CopyOnWrite) | vmm.Writable

	if err := pt.Remove(va, alloc); err != nil {
		return err
	}
	return pt.Insert(va, fresh, newAttr, alloc)
}
