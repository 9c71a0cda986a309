package thread

import (
	"github.com/google/btree"
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/sync"
)

// maxTID is the highest assignable TID; 0 is reserved (see TID's doc
// comment).
const maxTID = 65535

// threadTable is the ordered {TID -> *Thread} store, backed by
// github.com/google/btree the same way kernel/addrspace's ASID table is —
// spec.md §9 names THREAD_MAP/THREAD_POOL explicitly as one of the global
// mutable tables needing a single lock discipline and a stable enumeration
// order (address_space_destroy must visit "every thread whose ASID
// matches" deterministically, and thread-exit's broadcast must not skip or
// double-visit an entry concurrently inserted/removed elsewhere).
type threadTable struct {
	mu     sync.Spinlock
	bitmap [maxTID/64 + 1]uint64
	tree   *btree.BTreeG[tableEntry]
}

type tableEntry struct {
	tid TID
	t   *Thread
}

func lessEntry(a, b tableEntry) bool { return a.tid < b.tid }

var globalTable = newThreadTable()

func newThreadTable() *threadTable {
	return &threadTable{tree: btree.NewG(32, lessEntry)}
}

var errNoSpace = &kernel.Error{Module: "thread", Message: "TID space exhausted"}

func (tt *threadTable) allocTID() (TID, *kernel.Error) {
	tt.mu.Acquire()
	defer tt.mu.Release()

	for word := 0; word < len(tt.bitmap); word++ {
		if tt.bitmap[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			id := word*64 + bit
			if id == 0 || id > maxTID {
				continue
			}
			if tt.bitmap[word]&(1<<uint(bit)) == 0 {
				tt.bitmap[word] |= 1 << uint(bit)
				return TID(id), nil
			}
		}
	}
	return 0, errNoSpace
}

func (tt *threadTable) freeTID(id TID) {
	tt.mu.Acquire()
	defer tt.mu.Release()
	word, bit := int(id)/64, int(id)%64
	tt.bitmap[word] &^= 1 << uint(bit)
}

func (tt *threadTable) insert(t *Thread) {
	tt.mu.Acquire()
	defer tt.mu.Release()
	tt.tree.ReplaceOrInsert(tableEntry{tid: t.tid, t: t})
}

func (tt *threadTable) remove(id TID) {
	tt.mu.Acquire()
	defer tt.mu.Release()
	tt.tree.Delete(tableEntry{tid: id})
}

func (tt *threadTable) get(id TID) (*Thread, bool) {
	tt.mu.Acquire()
	defer tt.mu.Release()
	e, ok := tt.tree.Get(tableEntry{tid: id})
	if !ok {
		return nil, false
	}
	return e.t, true
}

// forEach invokes f for every live thread, in ascending TID order. f must
// not insert into or remove from the table; callers collect TIDs to
// mutate and apply the mutation after forEach returns (see
// destroyAllForASID).
func (tt *threadTable) forEach(f func(t *Thread)) {
	tt.mu.Acquire()
	snapshot := make([]*Thread, 0, tt.tree.Len())
	tt.tree.Ascend(func(e tableEntry) bool {
		snapshot = append(snapshot, e.t)
		return true
	})
	tt.mu.Release()

	for _, t := range snapshot {
		f(t)
	}
}

// Count returns the number of currently live threads. Exposed for test
// bookkeeping (property 1).
func Count() int {
	globalTable.mu.Acquire()
	defer globalTable.mu.Release()
	return globalTable.tree.Len()
}
