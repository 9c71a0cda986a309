package sync

import (
	"sync/atomic"
	"time"
)

const (
	parked   int32 = -1
	empty    int32 = 0
	notified int32 = 1
)

// Parker is a one-shot wait primitive with release/acquire ordered
// park/unpark, ported from rustpie's
// lib/libtrusted/src/thread/thread_parker.rs. It underlies thread_yield's
// retry loop in kernel/client: a caller spins on itc_call, parking between
// attempts instead of burning a full scheduler quantum on each HoldOn.
//
// Only the thread that owns a Parker may call Park/ParkTimeout; Unpark may
// be called by anyone.
type Parker struct {
	state atomic.Int32
}

// NewParker returns a Parker in the empty state.
func NewParker() *Parker {
	p := &Parker{}
	p.state.Store(empty)
	return p
}

// Park blocks until a matching Unpark call, consuming it. If Unpark was
// already called since the last Park, returns immediately.
func (p *Parker) Park() {
	if p.state.Add(-1) == 0 {
		// fetch_sub returned notified (1-1=0 means prior value was
		// notified=1): consume the token and return immediately.
		return
	}
	for {
		waitChanged(&p.state, parked)
		if p.state.CompareAndSwap(notified, empty) {
			return
		}
		// spurious wake-up: loop and wait again.
	}
}

// ParkTimeout blocks until a matching Unpark or until d elapses, whichever
// comes first.
func (p *Parker) ParkTimeout(d time.Duration) {
	if p.state.Add(-1) == 0 {
		return
	}
	waitChangedTimeout(&p.state, parked, d)
	p.state.Store(empty)
}

// Unpark wakes a thread blocked in Park/ParkTimeout, or arms the next call
// to Park so it returns immediately.
func (p *Parker) Unpark() {
	if p.state.Swap(notified) == parked {
		wakeAll(&p.state)
	}
}

// waitChanged, waitChangedTimeout and wakeAll implement the futex_wait /
// futex_wake pair the original left as `unimplemented!()` stubs (rustpie
// runs on bare metal with one thread per core and never actually blocks
// the host OS thread). Here Park genuinely suspends a goroutine, backed by
// a channel-per-waiter broadcast instead of a Linux futex.
var waitRegistry = newFutex()

func waitChanged(state *atomic.Int32, want int32) {
	waitRegistry.wait(state, want, 0)
}

func waitChangedTimeout(state *atomic.Int32, want int32, d time.Duration) {
	waitRegistry.wait(state, want, d)
}

func wakeAll(state *atomic.Int32) {
	waitRegistry.wake(state)
}
