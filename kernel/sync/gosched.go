package sync

import "runtime"

// gosched is a thin wrapper so Spinlock.Acquire's busy-wait has a single,
// easily-mocked yield point rather than calling runtime.Gosched directly.
var gosched = runtime.Gosched
