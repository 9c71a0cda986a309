package riscv64

import (
	"testing"

	"github.com/nazgrel/vespera/kernel/cpu"
)

func TestNewSetsEntrySPAndArg(t *testing.T) {
	f := New(0x4000, 0x8000, 99)

	if got := f.PC(); got != 0x4000 {
		t.Fatalf("expected PC 0x4000; got %#x", got)
	}
	if got := f.SP(); got != 0x8000 {
		t.Fatalf("expected SP 0x8000; got %#x", got)
	}
	if got := f.SyscallArgument(0); got != 99 {
		t.Fatalf("expected arg0 99; got %d", got)
	}
}

func TestSetSyscallResultEncodings(t *testing.T) {
	specs := []struct {
		name string
		out  cpu.SyscallOut
		want [5]uint64
	}{
		{"unit", cpu.UnitOut(), [5]uint64{}},
		{"single", cpu.SingleOut(7), [5]uint64{7}},
		{"pentad", cpu.PentadOut(1, 2, 3, 4, 5), [5]uint64{1, 2, 3, 4, 5}},
		{"error", cpu.ErrorOut(3), [5]uint64{3}},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			f := New(0, 0, 0)
			f.SetSyscallResult(spec.out)
			for i, want := range spec.want {
				if got := f.SyscallArgument(i); got != want {
					t.Errorf("a%d: expected %d; got %d", i, want, got)
				}
			}
		})
	}
}

func TestSyscallNumberReadsA7(t *testing.T) {
	f := &ContextFrame{}
	f.X[syscallNumberReg] = 17
	if got := f.SyscallNumber(); got != 17 {
		t.Fatalf("expected syscall number 17; got %d", got)
	}
}

func TestSPAliasesX2(t *testing.T) {
	f := New(0, 0, 0)
	f.SetSP(0x1234)
	if got := f.X[spReg]; got != 0x1234 {
		t.Fatalf("expected SetSP to write x2; got %#x", got)
	}
}
