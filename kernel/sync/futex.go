package sync

import (
	stdsync "sync"
	"sync/atomic"
	"time"
)

// futex is a minimal wait/wake registry keyed by the address of the
// watched word, standing in for the Linux futex syscall the original
// Parker left unimplemented. wait checks state against want before
// blocking and returns at once if they differ; otherwise it blocks the
// caller until wake is called for the same address (or, if d > 0, until d
// elapses). It does not re-check state after waking; Parker.Park does
// that in its own loop, as with futex's spurious-wakeup contract.
type futex struct {
	mu      stdsync.Mutex
	waiters map[*atomic.Int32][]chan struct{}
}

func newFutex() *futex {
	return &futex{waiters: make(map[*atomic.Int32][]chan struct{})}
}

func (f *futex) wait(state *atomic.Int32, want int32, d time.Duration) {
	f.mu.Lock()
	if state.Load() != want {
		f.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	f.waiters[state] = append(f.waiters[state], ch)
	f.mu.Unlock()

	if d <= 0 {
		<-ch
		return
	}
	select {
	case <-ch:
	case <-time.After(d):
	}
}

func (f *futex) wake(state *atomic.Int32) {
	f.mu.Lock()
	chans := f.waiters[state]
	delete(f.waiters, state)
	f.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}
