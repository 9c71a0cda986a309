// Command vkernel is the boot entry point: the simulated analogue of the
// rt0 assembly stub that calls Kmain on real hardware (gopheros/kernel/
// kmain.go, rustpie's _start in src/arch/*/start.S). There is no
// bootloader or MMU in this simulation, so main plays both roles — it
// performs the one-time subsystem bring-up a real rt0 would trigger, then
// stands in for the trap-entry loop a real CPU's exception vector would
// drive, calling sched.Tick in place of a hardware timer IRQ.
//
// Usage: vkernel [board-config.yaml]
package main

import (
	"os"

	"github.com/nazgrel/vespera/kernel"
	"github.com/nazgrel/vespera/kernel/addrspace"
	"github.com/nazgrel/vespera/kernel/board"
	"github.com/nazgrel/vespera/kernel/kfmt"
	"github.com/nazgrel/vespera/kernel/sched"
	"github.com/nazgrel/vespera/kernel/syscall"
	"github.com/nazgrel/vespera/kernel/thread"
)

var errKmainReturned = &kernel.Error{Module: "vkernel", Message: "boot loop returned"}

func main() {
	kfmt.SetOutputSink(os.Stdout)

	var cfgPath string
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := board.LoadConfig(cfgPath)
	if err != nil {
		kernel.Panic(err)
	}
	kfmt.Printf("vespera: booting board %s (%d cores, %d Hz tick)\n", string(cfg.Arch), cfg.CoreCount, cfg.TimerHz)

	alloc := board.Init(cfg)
	syscall.Init(alloc)

	idles := make([]*thread.Thread, cfg.CoreCount)
	for i := range idles {
		idle, err := thread.NewKernel(0, 0, 0, 0, false)
		if err != nil {
			kernel.Panic(err)
		}
		if err := thread.SetStatus(idle.TID(), thread.Idle); err != nil {
			kernel.Panic(err)
		}
		idles[i] = idle
		board.InitPerCore(i)
	}
	sched.Init(idles)

	rootAS, err := addrspace.Alloc(alloc)
	if err != nil {
		kernel.Panic(err)
	}
	root, err := thread.NewUser(0, 0, 0, rootAS.ASID(), 0)
	if err != nil {
		kernel.Panic(err)
	}
	if err := thread.SetStatus(root.TID(), thread.Runnable); err != nil {
		kernel.Panic(err)
	}
	kfmt.Printf("vespera: root server is asid=%d tid=%d\n", uint16(rootAS.ASID()), uint16(root.TID()))

	// A real exception vector restores *current*'s register file and
	// executes ERET/SRET after every Dispatch; that step has no
	// Go-expressible equivalent (see kernel/trap.Dispatch's doc comment)
	// and is why this loop only ever advances the scheduler rather than
	// actually resuming user code. Driving real traps through
	// kernel/trap.Dispatch is the job of the test suite, not of this
	// binary.
	for c := 0; c < sched.Count(); c++ {
		cpu := sched.Get(c)
		if t := sched.Tick(cpu); t != nil {
			kfmt.Printf("vespera: core %d scheduled tid=%d\n", cpu.ID(), uint16(t.TID()))
		}
	}

	kernel.Panic(errKmainReturned)
}
