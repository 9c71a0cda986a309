package thread

// Status is a thread's scheduling state (spec.md §3's complete set).
// Several named states collapse to a single "not runnable" bit at the
// syscall ABI boundary (thread_set_status only distinguishes Runnable vs
// NotRunnable, spec.md §9's second Open Question); internally the kernel
// keeps them distinct so ITC and the scheduler can reason about why a
// thread is blocked.
type Status uint8

const (
	// Runnable: present in exactly one CPU's ready queue, or currently
	// executing.
	Runnable Status = iota
	// WaitForRequest: blocked in itc_receive, not in any ready queue.
	WaitForRequest
	// WaitForReply: blocked in itc_call after delivering a request.
	WaitForReply
	// Sleep: blocked outside ITC. thread_set_status(2) sets NotRunnable,
	// not Sleep.
	Sleep
	// Idle: the per-core idle thread only.
	Idle
	// NotRunnable: the thread exists but is not schedulable. This is the
	// initial status of every thread created by new_user/new_kernel, and
	// is also set by thread_set_status(2) and by kernel/trap when it parks
	// a thread after an unhandled fault.
	NotRunnable
)

// Runnability collapses the distinct blocked states into the one bit the
// syscall ABI exposes (thread_set_status's status∈{1=Runnable,
// 2=NotRunnable}). Test S2 depends on user code being unable to tell
// WaitForRequest/WaitForReply/Sleep/NotRunnable apart by any means other
// than ITC's own return value.
func (s Status) Runnability() uint8 {
	if s == Runnable {
		return 1
	}
	return 2
}

func (s Status) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case WaitForRequest:
		return "WaitForRequest"
	case WaitForReply:
		return "WaitForReply"
	case Sleep:
		return "Sleep"
	case Idle:
		return "Idle"
	case NotRunnable:
		return "NotRunnable"
	default:
		return "Unknown"
	}
}
