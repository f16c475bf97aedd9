package ksync

import (
	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/task"
)

// Lock is a hand-off mutex: Release does not simply clear a flag, it wakes
// the longest-waiting blocked task (if any) and transfers ownership to it
// directly, so a task can never Acquire a lock out of arrival order.
// Mirrors lock_t from sync.h, fully implemented rather than left as the
// todo_noop() stub in sync.c.
type Lock struct {
	sched   Blocker
	locked  bool
	waiters task.RingQueue
}

// NewLock returns an unheld lock.
func NewLock(sched Blocker) *Lock {
	return &Lock{sched: sched}
}

// Acquire blocks until the lock is held by the calling task.
func (l *Lock) Acquire() {
	l.sched.BlockIf(&l.waiters, func() bool {
		if !l.locked {
			l.locked = true
			return false
		}
		return true
	})
}

// Release hands the lock to the next waiter, or clears it if none exist.
// Releasing an unheld lock is a programming error.
func (l *Lock) Release() {
	l.sched.Do(func() {
		kassert.True(l.locked, "lock: release of unheld lock")
	})
	l.sched.UnblockOrElse(&l.waiters, func() {
		l.locked = false
	})
}
