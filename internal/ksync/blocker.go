// Package ksync implements the kernel's synchronization primitives:
// Lock, Cond, Semaphore, Barrier, and the zero-width Spinlock sentinel.
//
// None of these types know anything about goroutines, channels, or ring
// buffers directly. They hold only the small bit of protected state each
// primitive needs (a locked flag, a count, an arrival counter) plus a wait
// queue, and they delegate every atomic check-and-block / unblock step to
// a Blocker. *sched.Scheduler implements Blocker; grounding the primitives
// against an interface instead of the concrete scheduler keeps this package
// free of any import on internal/sched, matching the layering in
// original_source/src/kernel/sync.c, where the primitives call block()/
// unblock() without knowing how the scheduler is implemented.
package ksync

import "github.com/j-os/kernel/internal/task"

// Blocker is the block/unblock contract every primitive in this package is
// built on. All four methods run atomically with respect to each other and
// to dispatch, the same guarantee a real kernel gets by disabling
// interrupts around its ready ring and wait queues: callers never observe
// a torn check-and-block or a lost wakeup.
type Blocker interface {
	// Do runs fn atomically; fn must not block.
	Do(fn func())

	// BlockIf runs cond atomically. If cond returns true the calling task
	// is moved off the ready ring, inserted into q, and the call does not
	// return until some other task unblocks it from q. If cond returns
	// false the call returns immediately without touching q. cond may
	// mutate the primitive's protected state; that mutation is atomic with
	// the block decision.
	BlockIf(q *task.RingQueue, cond func() bool) (blocked bool)

	// UnblockOrElse runs atomically. If q is non-empty it shifts the head
	// off q, marks it READY, reinserts it into the ready ring (a hand-off:
	// the primitive's own protected state is left untouched, so ownership
	// transfers directly to the woken task), and returns it. If q is empty
	// it runs orElse instead and returns nil.
	UnblockOrElse(q *task.RingQueue, orElse func()) *task.PCB

	// UnblockAll moves every task waiting on q to the ready ring and
	// returns how many were woken.
	UnblockAll(q *task.RingQueue) int
}
