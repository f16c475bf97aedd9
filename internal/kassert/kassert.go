// Package kassert provides the kernel's debug-assertion convention: a
// violated invariant is fatal to the system, not a recoverable error.
// It mirrors assertf()/abortk() in original_source/src/kernel/lib/assertk.c.
package kassert

import (
	"fmt"
	"runtime"
)

// True panics with file:line and msg if cond is false.
func True(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "???", 0
	}
	panic(fmt.Sprintf("%s:%d: assertion failed: %s", file, line, fmt.Sprintf(format, args...)))
}

// Abort unconditionally panics, mirroring abortk().
func Abort(format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "???", 0
	}
	panic(fmt.Sprintf("%s:%d: kernel abort: %s", file, line, fmt.Sprintf(format, args...)))
}
