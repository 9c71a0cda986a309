// Package arm64 implements cpu.ContextFrame for AArch64 virt targets:
// x0..x30, SP, PC and PSTATE, laid out the way an exception-entry
// assembly stub would push them onto the kernel stack (ported in shape
// from rustpie's src/arch/aarch64/exception.rs trap frame; see DESIGN.md).
package arm64

import (
	"unsafe"

	"github.com/nazgrel/vespera/kernel/cpu"
)

// syscallNumberReg and the first syscall argument register match
// AArch64's SVC calling convention: x8 carries the syscall number, x0..x5
// the arguments.
const (
	syscallNumberReg = 8
	firstArgReg      = 0
)

// ContextFrame is AArch64's saved register file: x0..x30 (31 GPRs), SP,
// PC, PSTATE — 34 eight-byte words, exactly cpu.ContextFrameSize bytes.
type ContextFrame struct {
	X      [31]uint64
	SP_    uint64
	PC_    uint64
	PSTATE uint64
}

var _ cpu.ContextFrame = (*ContextFrame)(nil)

// Compile-time size assertion (spec.md §6): either array bound below is
// negative, and the package fails to compile, unless ContextFrame is
// exactly cpu.ContextFrameSize bytes.
var (
	_ [cpu.ContextFrameSize - unsafe.Sizeof(ContextFrame{})]byte
	_ [unsafe.Sizeof(ContextFrame{}) - cpu.ContextFrameSize]byte
)

func (f *ContextFrame) PC() uintptr     { return uintptr(f.PC_) }
func (f *ContextFrame) SetPC(pc uintptr) { f.PC_ = uint64(pc) }
func (f *ContextFrame) SP() uintptr     { return uintptr(f.SP_) }
func (f *ContextFrame) SetSP(sp uintptr) { f.SP_ = uint64(sp) }

func (f *ContextFrame) SyscallNumber() uint64 { return f.X[syscallNumberReg] }

func (f *ContextFrame) SyscallArgument(i int) uint64 { return f.X[firstArgReg+i] }

// SetSyscallResult writes out into x0..x4, matching AArch64's return-value
// register convention (up to 5 registers for the Pentad shape).
func (f *ContextFrame) SetSyscallResult(out cpu.SyscallOut) {
	vals := out.Values()
	switch out.Kind() {
	case cpu.KindUnit:
	case cpu.KindSingle:
		f.X[0] = vals[0]
	case cpu.KindPentad:
		copy(f.X[0:5], vals[:])
	case cpu.KindError:
		f.X[0] = vals[0]
	}
}

// New returns a zeroed frame with PC/SP/arg0 set, matching the layout
// thread_alloc installs for a freshly created thread (spec.md §4.4).
func New(entry, sp uintptr, arg uint64) *ContextFrame {
	f := &ContextFrame{}
	f.SetPC(entry)
	f.SetSP(sp)
	f.X[firstArgReg] = arg
	return f
}
