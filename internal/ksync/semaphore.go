package ksync

import "github.com/j-os/kernel/internal/task"

// Semaphore is a counting semaphore with hand-off Up: waking a blocked Down
// hands it the unit directly rather than incrementing the count and racing
// every blocked task to re-check it. Mirrors semaphore_t from sync.h.
type Semaphore struct {
	sched   Blocker
	count   int
	waiters task.RingQueue
}

// NewSemaphore returns a semaphore initialized to count.
func NewSemaphore(sched Blocker, count int) *Semaphore {
	return &Semaphore{sched: sched, count: count}
}

// Down blocks until a unit is available, then consumes it.
func (s *Semaphore) Down() {
	s.sched.BlockIf(&s.waiters, func() bool {
		if s.count > 0 {
			s.count--
			return false
		}
		return true
	})
}

// Up produces a unit: hands it directly to the longest-waiting blocked
// task, or increments the count if none are waiting.
func (s *Semaphore) Up() {
	s.sched.UnblockOrElse(&s.waiters, func() {
		s.count++
	})
}
