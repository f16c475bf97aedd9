package ksync_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/ksync"
	"github.com/j-os/kernel/internal/sched"
	"github.com/j-os/kernel/internal/task"
)

func newTestScheduler() *sched.Scheduler {
	var ticks uint64
	return sched.New(config.Default(), func() uint64 {
		return atomic.AddUint64(&ticks, 1)
	}, 1)
}

// TestLockMutualExclusion runs a two-thread shared-counter scenario: two
// threads each loop 100 times incrementing a variable under a shared
// lock; the final value must be exactly 200, which only holds if the lock
// gives true mutual exclusion.
func TestLockMutualExclusion(t *testing.T) {
	s := newTestScheduler()
	lock := ksync.NewLock(s)
	sharedVar := 0

	const loops = 100
	done := make([]*task.PCB, 2)
	for i := 0; i < 2; i++ {
		p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
			for j := 0; j < loops; j++ {
				lock.Acquire()
				tmp := sharedVar
				s.Yield()
				sharedVar = tmp + 1
				lock.Release()
				s.Yield()
			}
		})
		require.NoError(t, err)
		done[i] = p
	}

	s.Start()
	<-done[0].Done
	<-done[1].Done
	assert.Equal(t, 2*loops, sharedVar)
}

// TestBarrierRendezvous runs a barrier-of-3 scenario: three tasks run
// many generations of the barrier and must never observe a generation
// count that diverges between them at the point they resume.
func TestBarrierRendezvous(t *testing.T) {
	s := newTestScheduler()
	barrier := ksync.NewBarrier(s, 3)

	const iterations = 200
	var crossings int32
	done := make([]*task.PCB, 3)
	for i := 0; i < 3; i++ {
		p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
			for j := 0; j < iterations; j++ {
				barrier.Wait()
				atomic.AddInt32(&crossings, 1)
			}
		})
		require.NoError(t, err)
		done[i] = p
	}

	s.Start()
	<-done[0].Done
	<-done[1].Done
	<-done[2].Done
	assert.Equal(t, int32(3*iterations), crossings)
	assert.Equal(t, iterations, barrier.Generation)
}

// TestSemaphoreBoundsConcurrency checks that a semaphore initialized to 1
// behaves like a lock: no two tasks ever observe the guarded counter in a
// torn state.
func TestSemaphoreBoundsConcurrency(t *testing.T) {
	s := newTestScheduler()
	sem := ksync.NewSemaphore(s, 1)
	counter := 0
	const loops = 50

	done := make([]*task.PCB, 3)
	for i := 0; i < 3; i++ {
		p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
			for j := 0; j < loops; j++ {
				sem.Down()
				tmp := counter
				s.Yield()
				counter = tmp + 1
				sem.Up()
			}
		})
		require.NoError(t, err)
		done[i] = p
	}

	s.Start()
	for _, p := range done {
		<-p.Done
	}
	assert.Equal(t, 3*loops, counter)
}

// TestDiningPhilosophers runs a three-philosopher scenario with an
// asymmetric fork-acquisition order (the last philosopher picks up its
// right fork first) to rule out deadlock.
func TestDiningPhilosophers(t *testing.T) {
	s := newTestScheduler()
	const n = 3
	forks := make([]*ksync.Lock, n)
	for i := range forks {
		forks[i] = ksync.NewLock(s)
	}

	const meals = 20
	var eaten int32
	done := make([]*task.PCB, n)
	for i := 0; i < n; i++ {
		id := i
		left := forks[id]
		right := forks[(id+1)%n]
		if id == n-1 {
			left, right = right, left // break the cycle
		}
		p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
			for m := 0; m < meals; m++ {
				left.Acquire()
				s.Yield()
				right.Acquire()
				atomic.AddInt32(&eaten, 1)
				right.Release()
				left.Release()
				s.Yield()
			}
		})
		require.NoError(t, err)
		done[i] = p
	}

	s.Start()
	for _, p := range done {
		<-p.Done
	}
	assert.Equal(t, int32(n*meals), eaten)
}

// TestCondSignalWakesOneWaiter exercises wait/signal against a shared
// lock-protected queue, the canonical producer/consumer condition-variable
// pattern.
func TestCondSignalWakesOneWaiter(t *testing.T) {
	s := newTestScheduler()
	lock := ksync.NewLock(s)
	cond := ksync.NewCond(s)
	var queue []int

	consumerDone := make(chan struct{})
	consumer, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		lock.Acquire()
		for len(queue) == 0 {
			cond.Wait(lock)
		}
		got := queue[0]
		queue = queue[1:]
		lock.Release()
		assert.Equal(t, 42, got)
		close(consumerDone)
	})
	require.NoError(t, err)

	producer, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		s.Yield()
		s.Yield()
		lock.Acquire()
		queue = append(queue, 42)
		lock.Release()
		cond.Signal()
	})
	require.NoError(t, err)

	s.Start()
	<-consumer.Done
	<-producer.Done
	<-consumerDone
}
