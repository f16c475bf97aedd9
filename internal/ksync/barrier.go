package ksync

import "github.com/j-os/kernel/internal/task"

// Barrier holds N tasks at Wait until the Nth arrives, then releases all N
// together and resets for the next generation. Mirrors the barrier_t
// sketched (but never implemented) in sync.h.
type Barrier struct {
	sched   Blocker
	n       int
	arrived int
	// Generation counts completed rendezvous; exported for tests that want
	// to assert every task observed the same release.
	Generation int
	waiters    task.RingQueue
}

// NewBarrier returns a barrier that releases every n arrivals.
func NewBarrier(sched Blocker, n int) *Barrier {
	return &Barrier{sched: sched, n: n}
}

// Wait blocks the calling task until n tasks (across all generations, reset
// each time) have called Wait, then releases all of them together.
func (b *Barrier) Wait() {
	reached := false
	b.sched.Do(func() {
		b.arrived++
		if b.arrived == b.n {
			b.arrived = 0
			b.Generation++
			reached = true
		}
	})
	if reached {
		b.sched.UnblockAll(&b.waiters)
		return
	}
	b.sched.BlockIf(&b.waiters, func() bool { return true })
}
