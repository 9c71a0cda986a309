package pmm

import (
	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/errors"
	"github.com/nazgrel/vespera/kernel/kfmt/early"
	"github.com/nazgrel/vespera/kernel/mem"
	"github.com/nazgrel/vespera/kernel/sync"
)

var errOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

// Arena is the simulated physical RAM backing a BitmapAllocator. It stands
// in for BOARD_NORMAL_MEMORY_RANGE: a flat byte slice, sliced into
// PageSize windows indexed by Frame.
type Arena struct {
	bytes []byte
}

// NewArena allocates an arena able to back frameCount pages.
func NewArena(frameCount int) *Arena {
	return &Arena{bytes: make([]byte, frameCount*mem.PageSize)}
}

// Bytes returns the byte window backing frame f.
func (a *Arena) Bytes(f Frame) []byte {
	off := uintptr(f) * mem.PageSize
	return a.bytes[off : off+mem.PageSize]
}

// FrameCount returns the number of pages the arena can back.
func (a *Arena) FrameCount() int {
	return len(a.bytes) / mem.PageSize
}

// BitmapAllocator implements a physical frame allocator that tracks
// reservations and reference counts over a single Arena with a free
// bitmap, mirroring gopheros/kernel/mem/pmm/allocator's pool design
// collapsed to one pool since the board model here has a single
// contiguous normal-memory range.
type BitmapAllocator struct {
	mu sync.Spinlock

	arena      *Arena
	freeBitmap []uint64
	refCount   []uint32

	totalFrames int
	freeFrames  int
}

// NewBitmapAllocator creates an allocator managing frameCount pages backed
// by a fresh Arena.
func NewBitmapAllocator(frameCount int) *BitmapAllocator {
	words := (frameCount + 63) / 64
	return &BitmapAllocator{
		arena:       NewArena(frameCount),
		freeBitmap:  make([]uint64, words),
		refCount:    make([]uint32, frameCount),
		totalFrames: frameCount,
		freeFrames:  frameCount,
	}
}

// Arena exposes the allocator's backing store.
func (a *BitmapAllocator) Arena() *Arena { return a.arena }

// FreeCount returns the number of frames currently unreserved. Testable
// property 5 in spec §8 (S5) requires this to return to its initial value
// once every mapping made against it has been released.
func (a *BitmapAllocator) FreeCount() int {
	a.mu.Acquire()
	defer a.mu.Release()
	return a.freeFrames
}

// Alloc reserves and returns a single frame with refcount 1. Its contents
// are not cleared.
func (a *BitmapAllocator) Alloc() (Frame, *kernel.Error) {
	a.mu.Acquire()
	defer a.mu.Release()

	for word := 0; word < len(a.freeBitmap); word++ {
		if a.freeBitmap[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			frameNum := word*64 + bit
			if frameNum >= a.totalFrames {
				break
			}
			if a.freeBitmap[word]&(1<<uint(bit)) != 0 {
				continue
			}
			a.freeBitmap[word] |= 1 << uint(bit)
			a.refCount[frameNum] = 1
			a.freeFrames--
			return Frame(frameNum), nil
		}
	}

	return InvalidFrame, errOutOfMemory
}

// AllocZeroed behaves like Alloc but additionally zeroes the frame's
// backing bytes before returning it.
func (a *BitmapAllocator) AllocZeroed() (Frame, *kernel.Error) {
	f, err := a.Alloc()
	if err != nil {
		return InvalidFrame, err
	}
	kernel.Memset(a.arena.Bytes(f), 0)
	return f, nil
}

// CloneRef increments f's reference count. Used whenever a second address
// space gains a mapping to an already-mapped frame (shared pages, a COW
// fork source).
func (a *BitmapAllocator) CloneRef(f Frame) {
	a.mu.Acquire()
	defer a.mu.Release()
	a.refCount[f]++
}

// DropRef decrements f's reference count and, once it reaches zero, zeroes
// the frame's contents and returns it to the free pool (spec §4.1: "after
// drop_ref drops the count to 0 the frame is zeroed before re-use").
func (a *BitmapAllocator) DropRef(f Frame) {
	a.mu.Acquire()
	defer a.mu.Release()

	if a.refCount[f] == 0 {
		early.Printf("[pmm] drop_ref: frame %d already free\n", uint64(f))
		return
	}

	a.refCount[f]--
	if a.refCount[f] != 0 {
		return
	}

	kernel.Memset(a.arena.Bytes(f), 0)
	word, bit := int(f)/64, uint(int(f)%64)
	a.freeBitmap[word] &^= 1 << bit
	a.freeFrames++
}

// RefCount returns f's current reference count.
func (a *BitmapAllocator) RefCount(f Frame) uint32 {
	a.mu.Acquire()
	defer a.mu.Release()
	return a.refCount[f]
}

// Code maps any pmm error to the stable syscall error code it represents.
// pmm only ever raises out-of-memory conditions.
func Code(err *kernel.Error) uint16 {
	if err == nil {
		return 0
	}
	return errors.NoMemory
}
