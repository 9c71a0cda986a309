package kernel

import (
	"github.com/nazgrel/vespera/kernel/kfmt/early"
)

var (
	// haltFn is replaced by tests so Panic does not actually stop the
	// process; the compiler inlines the production value.
	haltFn = defaultHalt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// defaultHalt is the production halt implementation. There is no real CPU
// to stop in the simulator, so halting means terminating the calling
// goroutine's progress by blocking forever.
func defaultHalt() {
	select {}
}

// Panic prints the supplied error (if any) to the console and halts the
// current core. Calls to Panic never return. Any trap taken while the CPU
// was in privileged (kernel) mode, any violated invariant from the data
// model, and any frame-allocator failure on a scheduler-critical path
// reaches the kernel through this function.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	default:
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	early.Printf("*** kernel panic: core halted ***")
	early.Printf("\n-----------------------------------\n")

	haltFn()
}
