// Package vmm implements the page-table engine (component B): a 4-level,
// 4 KiB-page translation tree per address space, with insert/lookup/remove
// and a traversal hook used by fork to clone mappings.
//
// Ported in shape from gopheros/kernel/mem/vmm's walk-callback design
// (map.go, pdt.go) and PageTableEntryFlag bitset naming, but re-targeted at
// a simulated, architecture-neutral 4-level tree instead of amd64's
// hardware recursive-mapping trick, which has no meaning without a real
// MMU.
package vmm

// Attr is the bitset attached to a mapped leaf page, matching spec §4.2
// exactly: {readable, writable, executable, user, shared, copy_on_write,
// device}.
type Attr uint16

const (
	// Readable marks a page as readable. The reference kernel maps
	// every present page readable; the bit exists for ABI completeness.
	Readable Attr = 1 << iota
	// Writable marks a page as writable by its mapped address space.
	Writable
	// Executable marks a page as containing executable code.
	Executable
	// User marks a page as accessible from user mode (as opposed to a
	// kernel-only mapping).
	User
	// Shared marks a page that must never be duplicated on fork's
	// copy-on-write pass — writes are visible to every address space
	// sharing it.
	Shared
	// CopyOnWrite marks a read-only clone produced by fork; the next
	// write fault duplicates the underlying frame.
	CopyOnWrite
	// Device marks a page backed by a Device-kind frame rather than
	// Normal RAM (spec §3's Frame.kind).
	Device
)

// Has reports whether attr contains every bit set in mask.
func (attr Attr) Has(mask Attr) bool {
	return attr&mask == mask
}
