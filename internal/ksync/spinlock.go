package ksync

// Spinlock is a zero-width sentinel type: the original kernel's
// spinlock_t exists only to keep SMP-era structs ABI
// compatible on a kernel that never runs on more than one CPU at a time
// from the scheduler's point of view. Acquire and Release are no-ops; the
// type exists so call sites that hold a spinlock across a critical section
// in the original source keep doing so here, documenting the intent.
type Spinlock struct{}

// Acquire is a no-op.
func (*Spinlock) Acquire() {}

// Release is a no-op.
func (*Spinlock) Release() {}
