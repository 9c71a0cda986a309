package addrspace

import (
	"github.com/google/btree"
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/sync"
)

// maxASID is the highest assignable ASID (spec §4.3: "1..=65535"; 0 is
// reserved for "current").
const maxASID = 65535

// addrspaceTable is the ordered {ASID -> *AddressSpace} store, backed by
// github.com/google/btree the way the domain stack's other ordered-ID
// tables are (see kernel/thread's TID table); an ASID-indexed btree keeps
// iteration (diagnostics, future "list every address space" tooling)
// cheap without requiring a second sorted index.
type addrspaceTable struct {
	mu     sync.Spinlock
	bitmap [maxASID/64 + 1]uint64
	tree   *btree.BTreeG[tableEntry]
}

type tableEntry struct {
	asid ASID
	as   *AddressSpace
}

func lessEntry(a, b tableEntry) bool { return a.asid < b.asid }

var globalTable = newAddrspaceTable()

func newAddrspaceTable() *addrspaceTable {
	return &addrspaceTable{tree: btree.NewG(32, lessEntry)}
}

// allocASID scans the bitmap for the lowest free ASID in [1, maxASID].
func (t *addrspaceTable) allocASID() (ASID, *kernel.Error) {
	t.mu.Acquire()
	defer t.mu.Release()

	for word := 0; word < len(t.bitmap); word++ {
		if t.bitmap[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			id := word*64 + bit
			if id == 0 || id > maxASID {
				continue
			}
			if t.bitmap[word]&(1<<uint(bit)) == 0 {
				t.bitmap[word] |= 1 << uint(bit)
				return ASID(id), nil
			}
		}
	}
	return 0, errNoSpace
}

func (t *addrspaceTable) freeASID(id ASID) {
	t.mu.Acquire()
	defer t.mu.Release()
	word, bit := int(id)/64, int(id)%64
	t.bitmap[word] &^= 1 << uint(bit)
}

func (t *addrspaceTable) insert(as *AddressSpace) {
	t.mu.Acquire()
	defer t.mu.Release()
	t.tree.ReplaceOrInsert(tableEntry{asid: as.asid, as: as})
}

func (t *addrspaceTable) remove(id ASID) {
	t.mu.Acquire()
	defer t.mu.Release()
	t.tree.Delete(tableEntry{asid: id})
}

func (t *addrspaceTable) get(id ASID) (*AddressSpace, bool) {
	t.mu.Acquire()
	defer t.mu.Release()
	e, ok := t.tree.Get(tableEntry{asid: id})
	if !ok {
		return nil, false
	}
	return e.as, true
}

// Count returns the number of currently live address spaces. Exposed for
// scenario S5's free-count bookkeeping in tests.
func Count() int {
	globalTable.mu.Acquire()
	defer globalTable.mu.Release()
	return globalTable.tree.Len()
}
