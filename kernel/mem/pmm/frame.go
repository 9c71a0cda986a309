// Package pmm implements the physical frame allocator (component A):
// ownership of physical RAM outside the kernel image, handed out as
// refcounted 4 KiB frames.
//
// There is no real physical address space to back frames against in this
// simulation, so the allocator owns a single contiguous byte arena
// (kernel/mem/pmm.Arena) and a Frame is simply an index into it. This
// replaces the teacher's (gopheros) unsafe-pointer-into-physical-RAM
// approach, which only makes sense against real hardware paging.
package pmm

import (
	"math"

	"github.com/nazgrel/vespera/kernel/mem"
)

// Frame identifies a physical memory page by index into the active Arena.
type Frame uintptr

// InvalidFrame is returned by the allocator on failure.
const InvalidFrame = Frame(math.MaxUint64)

// Valid reports whether f was successfully allocated.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the simulated physical address of f, used only for
// logging/diagnostics — no code dereferences it directly.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}
