// Package config holds the typed configuration knobs the original kernel
// hardcoded as preprocessor flags (original_source/src/kernel/config.h),
// carried forward as a struct read once at kernel init.
package config

import "time"

// EvictionStrategy selects the frame-eviction policy used by the memory
// manager when the pageable frame pool is exhausted.
type EvictionStrategy int

const (
	EvictionFIFO EvictionStrategy = iota + 1
	EvictionRandom
)

// Config is the kernel-wide configuration record, read once at init and
// threaded explicitly into the memory manager and scheduler.
type Config struct {
	// ProcessesShareKernelPageTable mirrors PROCESSES_SHARE_KERNEL_PAGE_TABLE.
	ProcessesShareKernelPageTable bool
	// PinShell mirrors PIN_SHELL.
	PinShell bool
	// Eviction selects FIFO or random victim selection.
	Eviction EvictionStrategy
	// ScheduleProcessLaunching mirrors SCHEDULE_PROCESS_LAUNCHING: when
	// true, new-process admission waits for free frames instead of
	// launching unconditionally.
	ScheduleProcessLaunching bool
	// AveragePagesPerProcess mirrors AVERAGE_PAGES_PER_PROCESS.
	AveragePagesPerProcess int
	// NewProcessWaitForPages mirrors NEW_PROCESS_WAIT_TIME_FOR_PAGES.
	NewProcessWaitForPages time.Duration
}

// Default returns the "stable settings" configuration documented in
// config.h: limit running processes and share kernel page tables.
func Default() Config {
	return Config{
		ProcessesShareKernelPageTable: true,
		PinShell:                      false,
		Eviction:                      EvictionFIFO,
		ScheduleProcessLaunching:      true,
		AveragePagesPerProcess:        7,
		NewProcessWaitForPages:        1000 * time.Millisecond,
	}
}
