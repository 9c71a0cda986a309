package vmm

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/mem"
	"github.com/nazgrel/vespera/kernel/mem/pmm"
)

var (
	// ErrAlreadyMapped is returned by Insert when va already has a leaf
	// mapping whose (frame, attr) differ from the requested one. A
	// re-insert of the identical (frame, attr) pair is idempotent and
	// succeeds.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address already mapped"}
	// ErrNotMapped is returned by Remove and Lookup-dependent callers
	// when va has no leaf mapping.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address not mapped"}
)

const (
	entriesPerTable = 512
	levelBits       = 9
	// levels is the number of radix levels below the root: L0 (root),
	// L1, L2, L3 (leaf). 4 levels * 9 bits + 12-bit page offset covers
	// a 48-bit virtual address space on both AArch64 (4-level, 4 KiB
	// granule) and Sv48 RISC-V.
	levels   = 4
	leafLevel = levels - 1
)

// FrameAllocator is the subset of pmm.BitmapAllocator the page-table
// engine needs: allocating frames to back new interior tables, and
// adjusting refcounts as leaves are mapped, shared, or removed. Accepting
// this interface (rather than a concrete *pmm.BitmapAllocator) keeps vmm
// decoupled from the allocator's implementation, matching the teacher's
// FrameAllocatorFn pattern but widened to cover ref-counting too.
type FrameAllocator interface {
	Alloc() (pmm.Frame, *kernel.Error)
	CloneRef(pmm.Frame)
	DropRef(pmm.Frame)
	Arena() *pmm.Arena
}

type pte struct {
	present bool
	isLeaf  bool
	frame   pmm.Frame // leaf: mapped frame. interior: frame backing the child table.
	attr    Attr      // leaf attributes; unused for interior entries.
	child   *table
}

type table struct {
	frame   pmm.Frame // the frame this table itself is stored in (bookkeeping only)
	entries [entriesPerTable]pte
}

// PageTable is a 4-level translation tree for a single address space.
type PageTable struct {
	root *table
}

// NewPageTable allocates a fresh, empty page table, consuming one frame
// from alloc for its root.
func NewPageTable(alloc FrameAllocator) (*PageTable, *kernel.Error) {
	f, err := alloc.Alloc()
	if err != nil {
		return nil, err
	}
	return &PageTable{root: &table{frame: f}}, nil
}

func split(va uintptr) [levels]int {
	var idx [levels]int
	shift := mem.PageShift + (levels-1)*levelBits
	for i := 0; i < levels; i++ {
		idx[i] = int((va >> uint(shift)) & (entriesPerTable - 1))
		shift -= levelBits
	}
	return idx
}

// Insert installs a leaf mapping va -> frame with the given attributes,
// allocating any missing interior tables from alloc along the way. A
// second Insert at the same va with an identical (frame, attr) pair is a
// no-op; any other re-insert fails with ErrAlreadyMapped.
func (pt *PageTable) Insert(va uintptr, frame pmm.Frame, attr Attr, alloc FrameAllocator) *kernel.Error {
	idx := split(va)
	t := pt.root

	for level := 0; level < leafLevel; level++ {
		e := &t.entries[idx[level]]
		if !e.present {
			childFrame, err := alloc.Alloc()
			if err != nil {
				return err
			}
			e.present = true
			e.child = &table{frame: childFrame}
		}
		t = e.child
	}

	leaf := &t.entries[idx[leafLevel]]
	if leaf.present {
		if leaf.frame == frame && leaf.attr == attr {
			return nil
		}
		return ErrAlreadyMapped
	}

	leaf.present = true
	leaf.isLeaf = true
	leaf.frame = frame
	leaf.attr = attr
	return nil
}

// Lookup returns the frame and attributes mapped at va, or ok=false if va
// has no leaf mapping.
func (pt *PageTable) Lookup(va uintptr) (frame pmm.Frame, attr Attr, ok bool) {
	idx := split(va)
	t := pt.root

	for level := 0; level < leafLevel; level++ {
		e := &t.entries[idx[level]]
		if !e.present {
			return pmm.InvalidFrame, 0, false
		}
		t = e.child
	}

	leaf := &t.entries[idx[leafLevel]]
	if !leaf.present {
		return pmm.InvalidFrame, 0, false
	}
	return leaf.frame, leaf.attr, true
}

// Remove tears down the leaf mapping at va, drops the underlying frame's
// reference count, and prunes any interior table left fully empty by the
// removal.
func (pt *PageTable) Remove(va uintptr, alloc FrameAllocator) *kernel.Error {
	idx := split(va)

	var path [leafLevel]*table
	t := pt.root
	for level := 0; level < leafLevel; level++ {
		path[level] = t
		e := &t.entries[idx[level]]
		if !e.present {
			return ErrNotMapped
		}
		t = e.child
	}

	leaf := &t.entries[idx[leafLevel]]
	if !leaf.present {
		return ErrNotMapped
	}

	alloc.DropRef(leaf.frame)
	*leaf = pte{}

	// Prune empty interior tables bottom-up, starting at the
	// second-to-last level (the parent of the leaf table).
	child := t
	for level := leafLevel - 1; level >= 0; level-- {
		if !tableEmpty(child) {
			break
		}
		parent := path[level]
		e := &parent.entries[idx[level]]
		alloc.DropRef(e.child.frame)
		*e = pte{}
		child = parent
	}

	return nil
}

func tableEmpty(t *table) bool {
	for i := range t.entries {
		if t.entries[i].present {
			return false
		}
	}
	return true
}

// Traverse invokes f(va, frame, attr) for every leaf mapping in the table,
// in ascending virtual-address order. Used by fork to clone a parent
// address space's mappings into a freshly allocated child (spec §4.3).
func (pt *PageTable) Traverse(f func(va uintptr, frame pmm.Frame, attr Attr)) {
	var walk func(t *table, level int, base uintptr)
	walk = func(t *table, level int, base uintptr) {
		shift := uint(mem.PageShift + (levels-1-level)*levelBits)
		for i, e := range t.entries {
			if !e.present {
				continue
			}
			va := base | (uintptr(i) << shift)
			if level == leafLevel {
				f(va, e.frame, e.attr)
				continue
			}
			walk(e.child, level+1, va)
		}
	}
	walk(pt.root, 0, 0)
}

// Destroy releases every mapping's frame reference and every interior
// table's backing frame, including the root, in depth-first order. Used
// by kernel/addrspace on address_space_destroy.
func (pt *PageTable) Destroy(alloc FrameAllocator) {
	var free func(t *table, level int)
	free = func(t *table, level int) {
		for i := range t.entries {
			e := &t.entries[i]
			if !e.present {
				continue
			}
			if level == leafLevel {
				alloc.DropRef(e.frame)
				continue
			}
			free(e.child, level+1)
			alloc.DropRef(e.child.frame)
		}
	}
	free(pt.root, 0)
	alloc.DropRef(pt.root.frame)
}
