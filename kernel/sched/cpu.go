// Package sched implements the per-CPU ready queue and round-robin
// scheduler (component E, spec.md §4.4). sched.CPU's shape — current
// thread, FIFO ready queue, serviced context pointer, idle thread — is
// inferred from its call sites in rustpie's src/arch/aarch64/exception.rs
// and src/main.rs, since lib/cpu.rs itself wasn't retrieved into the pack
// (see DESIGN.md's Open Question on this).
package sched

import (
	"github.com/nazgrel/vespera/kernel/cpu"
	"github.com/nazgrel/vespera/kernel/sync"
	"github.com/nazgrel/vespera/kernel/thread"
)

// CPU is one hardware core's scheduling state (spec.md §3's CPU struct).
type CPU struct {
	id int

	mu    sync.Spinlock
	ready []*thread.Thread

	current  *thread.Thread
	idle     *thread.Thread
	serviced cpu.ContextFrame
}

// NewCPU returns a CPU with an empty ready queue, running its idle
// thread.
func NewCPU(id int, idle *thread.Thread) *CPU {
	return &CPU{id: id, idle: idle, current: idle}
}

// ID returns the core number.
func (c *CPU) ID() int { return c.id }

// Current returns the thread presently running (or about to run) on this
// core.
func (c *CPU) Current() *thread.Thread {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.current
}

// ServicedContext returns the context frame the trap dispatcher is
// currently servicing in kernel mode for this core (spec.md §3).
func (c *CPU) ServicedContext() cpu.ContextFrame {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.serviced
}

// SetServicedContext records the context frame the trap entry just saved.
func (c *CPU) SetServicedContext(f cpu.ContextFrame) {
	c.mu.Acquire()
	c.serviced = f
	c.mu.Release()
}

// Enqueue appends t to this core's ready queue. Invariant (spec.md §3): a
// TID is present in at most one ready queue — callers must not enqueue a
// thread already enqueued elsewhere.
func (c *CPU) Enqueue(t *thread.Thread) {
	c.mu.Acquire()
	c.ready = append(c.ready, t)
	c.mu.Release()
}

func (c *CPU) dequeue() (*thread.Thread, bool) {
	c.mu.Acquire()
	defer c.mu.Release()
	if len(c.ready) == 0 {
		return nil, false
	}
	t := c.ready[0]
	c.ready = c.ready[1:]
	return t, true
}

// Schedule implements spec.md §4.4's schedule(): if the outgoing thread is
// still Runnable (a voluntary yield or timer preemption, as opposed to
// having just blocked in ITC or Sleep), it is requeued at the tail; the
// head of the ready queue becomes current, or the idle thread if the
// queue is empty.
func (c *CPU) Schedule() *thread.Thread {
	c.mu.Acquire()
	outgoing := c.current
	c.mu.Release()

	if outgoing != nil && outgoing != c.idle {
		outgoing.Lock()
		stillRunnable := outgoing.StatusLocked() == thread.Runnable
		outgoing.Unlock()
		if stillRunnable {
			c.Enqueue(outgoing)
		}
	}

	next, ok := c.dequeue()
	if !ok {
		next = c.idle
	}

	c.mu.Acquire()
	c.current = next
	c.mu.Release()
	return next
}
