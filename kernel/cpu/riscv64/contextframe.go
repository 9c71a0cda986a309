// Package riscv64 implements cpu.ContextFrame for RISC-V virt targets:
// x0..x31, PC and SSTATUS, matching the trap frame an exception-entry
// assembly stub would push (ported in shape from the AArch64 equivalent
// in kernel/cpu/arm64, generalized to RISC-V's register set and calling
// convention). It is compiled in alongside kernel/cpu/arm64; board.Init
// selects between them at boot.
package riscv64

import (
	"unsafe"

	"github.com/nazgrel/vespera/kernel/cpu"
)

// ECALL's calling convention: a7 carries the syscall number, a0..a4 the
// arguments and return values.
const (
	syscallNumberReg = 17 // a7 = x17
	firstArgReg      = 10 // a0 = x10
)

// ContextFrame is RISC-V's saved register file: x0..x31 (32 GPRs), PC,
// SSTATUS — 34 eight-byte words, exactly cpu.ContextFrameSize bytes. x2 is
// the stack pointer by convention; there is no separate SP field.
type ContextFrame struct {
	X       [32]uint64
	PC_     uint64
	SSTATUS uint64
}

var _ cpu.ContextFrame = (*ContextFrame)(nil)

var (
	_ [cpu.ContextFrameSize - unsafe.Sizeof(ContextFrame{})]byte
	_ [unsafe.Sizeof(ContextFrame{}) - cpu.ContextFrameSize]byte
)

const spReg = 2 // x2 = sp

func (f *ContextFrame) PC() uintptr      { return uintptr(f.PC_) }
func (f *ContextFrame) SetPC(pc uintptr) { f.PC_ = uint64(pc) }
func (f *ContextFrame) SP() uintptr      { return uintptr(f.X[spReg]) }
func (f *ContextFrame) SetSP(sp uintptr) { f.X[spReg] = uint64(sp) }

func (f *ContextFrame) SyscallNumber() uint64 { return f.X[syscallNumberReg] }

func (f *ContextFrame) SyscallArgument(i int) uint64 { return f.X[firstArgReg+i] }

// SetSyscallResult writes out into a0..a4, RISC-V's return-value register
// convention.
func (f *ContextFrame) SetSyscallResult(out cpu.SyscallOut) {
	vals := out.Values()
	switch out.Kind() {
	case cpu.KindUnit:
	case cpu.KindSingle:
		f.X[firstArgReg] = vals[0]
	case cpu.KindPentad:
		copy(f.X[firstArgReg:firstArgReg+5], vals[:])
	case cpu.KindError:
		f.X[firstArgReg] = vals[0]
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
