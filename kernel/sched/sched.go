package sched

import "github.com/nazgrel/vespera/kernel/thread"

var cpus []*CPU

// Init builds one CPU per core (board.Config.CoreCount, spec.md §9's
// "SMP beyond static per-core init" Non-goal: cores are fixed at boot,
// never hot-added) and registers this package's enqueue policy with
// kernel/thread, closing the dependency loop thread.SetStatus(Runnable)
// needs without kernel/thread importing kernel/sched.
func Init(idles []*thread.Thread) {
	cpus = make([]*CPU, len(idles))
	for i, idle := range idles {
		cpus[i] = NewCPU(i, idle)
	}
	thread.RegisterEnqueuer(func(t *thread.Thread) {
		affinity(t).Enqueue(t)
	})
}

// affinity picks which CPU a newly-Runnable thread lands on. spec.md
// §4.4 permits any choice and notes "the reference uses the current
// CPU"; absent a true per-core execution context in this simulation, core
// 0 stands in for "the current CPU" — every syscall in this kernel is
// serviced in-process rather than truly in parallel per core, so affinity
// has no observable effect on the testable properties (none depend on
// which core a thread lands on, only that it lands in exactly one ready
// queue).
func affinity(t *thread.Thread) *CPU {
	_ = t
	return cpus[0]
}

// Get returns the CPU for core id.
func Get(id int) *CPU { return cpus[id] }

// Count returns the number of initialized cores.
func Count() int { return len(cpus) }

// Tick drives one timer interrupt's worth of round-robin preemption on c
// (spec.md §4.4: "Timer IRQ (fixed tick) calls schedule()").
func Tick(c *CPU) *thread.Thread { return c.Schedule() }
