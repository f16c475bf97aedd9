package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/task"
)

func newTestScheduler() *Scheduler {
	var ticks uint64
	tick := func() uint64 { return atomic.AddUint64(&ticks, 1) }
	return New(config.Default(), tick, 1)
}

func TestYieldRoundRobinsFairly(t *testing.T) {
	s := newTestScheduler()
	const n = 4
	const iterations = 50

	order := make(chan int, n*iterations)
	done := make([]*task.PCB, n)

	for i := 0; i < n; i++ {
		id := i
		p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
			for j := 0; j < iterations; j++ {
				order <- id
				s.Yield()
			}
		})
		require.NoError(t, err)
		done[i] = p
	}

	s.Start()
	for i := 0; i < n; i++ {
		<-done[i].Done
	}
	close(order)

	seen := 0
	for id := range order {
		assert.Equal(t, seen%n, id, "entry %d breaks round-robin order", seen)
		seen++
	}
	assert.Equal(t, n*iterations, seen)
}

func TestMSleepOrdering(t *testing.T) {
	s := newTestScheduler()
	var log []string

	short, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		s.MSleep(1)
		log = append(log, "short")
	})
	require.NoError(t, err)
	long, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		s.MSleep(40)
		log = append(log, "long")
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-long.Done:
	case <-time.After(time.Second):
		t.Fatal("long task never finished")
	}
	<-short.Done

	require.Len(t, log, 2)
	assert.Equal(t, "short", log[0])
	assert.Equal(t, "long", log[1])
}

func TestBlockUnblockHandoff(t *testing.T) {
	s := newTestScheduler()
	var q task.RingQueue
	woke := make(chan struct{})

	waiter, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		s.Block(&q)
		close(woke)
	})
	require.NoError(t, err)

	waker, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {
		for {
			if job := s.Unblock(&q); job != nil {
				return
			}
			s.Yield()
		}
	})
	require.NoError(t, err)

	s.Start()
	<-waiter.Done
	<-waker.Done
	select {
	case <-woke:
	default:
		t.Fatal("waiter never woke")
	}
}

func TestExitReapsTask(t *testing.T) {
	s := newTestScheduler()
	p, err := s.Spawn(task.KernelThread, 0, func(p *task.PCB) {})
	require.NoError(t, err)
	s.Start()
	<-p.Done
	assert.Equal(t, task.Exited, p.Status)
}

func TestStatsReflectsRunningProcesses(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	p, err := s.Spawn(task.UserProcess, 0, func(p *task.PCB) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	s.Start()
	<-started
	assert.Equal(t, 1, s.Stats().RunningProcesses)
	close(release)
	<-p.Done
	assert.Equal(t, 0, s.Stats().RunningProcesses)
}
