// Package klog wraps zerolog with the pr_debug/pr_error/pr_dump taxonomy
// from original_source/src/kernel/lib/printk.h, so the rest of the kernel
// logs the way the original kernel did without reinventing a logger.
package klog

import (
	"os"

	"github.com/rs/zerolog"
)

// L is the package-level kernel logger. Components accept it explicitly
// or fall back to this default, mirroring how printk() was a single
// kernel-wide sink in the original.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

// Debug logs a pr_debug-equivalent trace message.
func Debug(component string, format string, args ...interface{}) {
	L.Debug().Str("component", component).Msgf(format, args...)
}

// Warn logs a pr_error-equivalent recoverable problem.
func Warn(component string, format string, args ...interface{}) {
	L.Warn().Str("component", component).Msgf(format, args...)
}

// Dump logs structured diagnostic context, mirroring pr_dump() usage in
// the exception handlers (register/task dumps).
func Dump(component string, fields map[string]interface{}, msg string) {
	ev := L.Error().Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Fatal logs then panics, mirroring abortk(): there is no process to
// os.Exit from inside a kernel subsystem, so callers that truly cannot
// continue panic and let the top-level harness recover and report.
func Fatal(component string, format string, args ...interface{}) {
	L.Error().Str("component", component).Msgf(format, args...)
	panic(component + ": " + format)
}
