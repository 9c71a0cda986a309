// Package early re-exports kfmt.Printf under a distinct name so call sites
// that only ever run before a real output sink exists (frame allocator
// bring-up, panic handling) document that fact, matching the teacher's
// kfmt/early split.
package early

import "github.com/nazgrel/vespera/kernel/kfmt"

// Printf formats according to kfmt's verb subset and writes to the
// currently active sink, or the early ring buffer if none has been set.
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
