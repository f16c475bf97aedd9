package ksync

import "github.com/j-os/kernel/internal/task"

// Cond is a condition variable used together with a Lock, following the
// usual wait/signal/broadcast discipline. Mirrors condition_t from sync.h.
type Cond struct {
	sched   Blocker
	waiters task.RingQueue
}

// NewCond returns a condition variable with no waiters.
func NewCond(sched Blocker) *Cond {
	return &Cond{sched: sched}
}

// Wait atomically releases l and blocks the calling task, then reacquires
// l before returning. Because the scheduler only ever hands the CPU to one
// task body at a time, no Signal or Broadcast can run between the release
// and the block, so no wakeup is lost.
func (c *Cond) Wait(l *Lock) {
	l.Release()
	c.sched.BlockIf(&c.waiters, func() bool { return true })
	l.Acquire()
}

// Signal wakes one waiting task, if any.
func (c *Cond) Signal() {
	c.sched.UnblockOrElse(&c.waiters, func() {})
}

// Broadcast wakes every waiting task.
func (c *Cond) Broadcast() {
	c.sched.UnblockAll(&c.waiters)
}
