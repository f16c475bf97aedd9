// Package sched implements the cooperative+preemptive task scheduler: the
// ready ring, the status machine, and the block/unblock primitives every
// synchronization object in internal/ksync is built on.
//
// Ported from original_source/src/kernel/scheduler.c. A real kernel
// switches CPU context inside scheduler(): it saves the outgoing task's
// registers, loads the incoming task's, and returns into wherever the
// incoming task last stopped. Go gives no way to suspend and resume an
// arbitrary running goroutine's call stack from the outside, so each task
// body runs in its own goroutine that blocks on a per-task Resume channel
// until the scheduler says it may proceed (task.PCB.Resume/Done). At most
// one task's Resume channel is ever open at a time, so exactly one task
// body executes at once — the same single-task-runs-at-a-time invariant
// the original gets from disabling interrupts during the switch.
package sched

import (
	"sync"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/klog"
	"github.com/j-os/kernel/internal/task"
)

// component is the klog tag used by this package.
const component = "sched"

// Scheduler owns the task table, the ready ring, and the critical section
// that protects both. It implements ksync.Blocker.
type Scheduler struct {
	mu sync.Mutex

	table   *task.Table
	ready   task.RingQueue
	current *task.PCB

	cfg config.Config

	// tick returns a monotonically increasing count used for MSleep
	// wakeup deadlines; it stands in for read_tsc(). Tests inject a fake.
	tick func() uint64
	// cpuHz stands in for the calibrated CPU speed used to convert a
	// millisecond sleep duration into tick units.
	cpuHz uint64

	runningProcesses int

	// OnDispatch, if set, is called with the task about to receive the
	// CPU. internal/kernel does not set it, so dispatch neither swaps page
	// directories nor restores a saved PIC mask; tests leave it nil too.
	OnDispatch func(p *task.PCB)

	idle *task.PCB
}

// New returns a scheduler with an always-ready idle task pinned in the
// ring, guaranteeing pickNext never runs out of candidates (mirrors the
// "assert another ready task exists" invariant in scheduler.c without
// requiring every test to populate the ready ring itself).
func New(cfg config.Config, tick func() uint64, cpuHz uint64) *Scheduler {
	s := &Scheduler{
		table: task.NewTable(),
		cfg:   cfg,
		tick:  tick,
		cpuHz: cpuHz,
	}
	idle, err := s.table.Alloc()
	kassert.True(err == nil, "sched: failed to allocate idle task: %v", err)
	idle.Kind = task.KernelThread
	idle.Status = task.Ready
	s.ready.Insert(idle)
	s.idle = idle
	go func() {
		<-idle.Resume
		for {
			s.Yield()
		}
	}()
	return s
}

// Spawn allocates a task, puts it on the ready ring, and starts its body
// goroutine. The body does not begin executing until the scheduler first
// dispatches it (status FIRST_TIME).
func (s *Scheduler) Spawn(kind task.Kind, priority int, body func(p *task.PCB)) (*task.PCB, error) {
	p, err := s.table.Alloc()
	if err != nil {
		return nil, err
	}
	p.Kind = kind
	p.Priority = priority

	s.mu.Lock()
	s.ready.Insert(p)
	if kind == task.UserProcess {
		s.runningProcesses++
	}
	s.mu.Unlock()

	go func() {
		<-p.Resume
		body(p)
		if p.Status != task.Exited {
			s.Exit()
		}
		close(p.Done)
	}()
	return p, nil
}

// currentOrPanic returns the task the calling goroutine represents.
func (s *Scheduler) currentOrPanic() *task.PCB {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	kassert.True(cur != nil, "sched: no task is currently running")
	return cur
}

// Start dispatches the idle task, which at once yields to the next
// runnable task on the ready ring (typically whatever was Spawned before
// Start was called), and returns immediately — it does not wait for the
// system to go idle. Callers that need to know when a spawned task has finished
// should wait on that task's Done channel instead.
func (s *Scheduler) Start() {
	s.mu.Lock()
	next := s.pickNextLocked(s.idle)
	s.current = next
	s.mu.Unlock()
	if s.OnDispatch != nil {
		s.OnDispatch(next)
	}
	next.Resume <- struct{}{}
}

// pickNextLocked walks the ready ring starting AT start (start itself is
// the first candidate examined, not skipped), mirroring the switch on
// current_running->status in scheduler(): SLEEPING tasks whose deadline
// has passed become READY in place, EXITED tasks are reaped, and the
// first READY/FIRST_TIME task found is returned. Callers must hold mu and
// must choose start correctly: pass the outgoing task itself when it is
// still a ring member whose own status needs evaluating (EXITED, or a
// fresh dispatch), or its already-captured successor when the outgoing
// task has already been unlinked from the ring (BLOCKED) or deliberately
// skipped because it just had its turn (READY/SLEEPING yielding).
func (s *Scheduler) pickNextLocked(start *task.PCB) *task.PCB {
	cur := start
	for {
		switch cur.Status {
		case task.Sleeping:
			if s.tick() >= cur.WakeupTime {
				cur.Status = task.Ready
			}
		case task.Exited:
			next := cur.RingNext()
			s.ready.Remove(cur)
			s.table.Free(cur)
			cur = next
			continue
		case task.FirstTime, task.Ready:
			// nothing to do before checking below
		default:
			kassert.Abort("sched: pcb %d has non-ring status %s", cur.ID, cur.Status)
		}
		if cur.Status == task.FirstTime {
			cur.Status = task.Ready
			return cur
		}
		if cur.Status == task.Ready {
			return cur
		}
		cur = cur.RingNext()
	}
}

// switchTo transfers the CPU from outgoing to the next runnable task found
// starting at start, then parks outgoing until it is dispatched again.
// outgoing's status and ring/queue membership must already reflect its new
// state before calling switchTo.
func (s *Scheduler) switchTo(start, outgoing *task.PCB) {
	s.mu.Lock()
	next := s.pickNextLocked(start)
	s.current = next
	s.mu.Unlock()

	if next == outgoing {
		return
	}
	if s.OnDispatch != nil {
		s.OnDispatch(next)
	}
	next.Resume <- struct{}{}
	if outgoing.Status != task.Exited {
		<-outgoing.Resume
	}
}

// Yield voluntarily gives up the CPU; the calling task stays READY and may
// be redispatched as soon as every other READY task has run once.
func (s *Scheduler) Yield() {
	cur := s.currentOrPanic()
	s.mu.Lock()
	cur.YieldCount++
	succ := cur.RingNext()
	s.mu.Unlock()
	s.switchTo(succ, cur)
}

// Safepoint is the cooperative preemption checkpoint: task bodies call it
// at loop back-edges, standing in for the timer-interrupt-driven
// preemption a real kernel gets for free.
func (s *Scheduler) Safepoint() {
	cur := s.currentOrPanic()
	s.mu.Lock()
	cur.PreemptCount++
	succ := cur.RingNext()
	s.mu.Unlock()
	s.switchTo(succ, cur)
}

// MSleep blocks the calling task until at least ms milliseconds of
// simulated CPU time have elapsed, converting via the configured tick
// rate the same way sleep() computes wakeup_time in scheduler.c.
func (s *Scheduler) MSleep(ms uint64) {
	cur := s.currentOrPanic()
	s.mu.Lock()
	cur.Status = task.Sleeping
	cur.WakeupTime = s.tick() + ms*s.cpuHz*1000
	succ := cur.RingNext()
	s.mu.Unlock()
	s.switchTo(succ, cur)
}

// Exit marks the calling task EXITED; it is reaped the next time the
// scheduler's ring walk reaches it. Exit never returns usable control to
// its caller: a task body must call Exit as its last statement and return
// immediately afterward without touching kernel state again.
func (s *Scheduler) Exit() {
	cur := s.currentOrPanic()
	s.mu.Lock()
	cur.Status = task.Exited
	if cur.Kind == task.UserProcess {
		s.runningProcesses--
	}
	s.mu.Unlock()
	klog.Debug(component, "task %d exiting", cur.ID)
	s.switchTo(cur, cur)
}

// Block removes the calling task from the ready ring, inserts it into q,
// and does not return until some other task unblocks it from q.
func (s *Scheduler) Block(q *task.RingQueue) {
	cur := s.currentOrPanic()
	s.mu.Lock()
	succ := cur.RingNext()
	cur.Status = task.Blocked
	s.ready.Remove(cur)
	q.Insert(cur)
	s.mu.Unlock()
	s.switchTo(succ, cur)
}

// Do runs fn atomically with respect to every other Blocker method.
func (s *Scheduler) Do(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

// BlockIf implements ksync.Blocker.
func (s *Scheduler) BlockIf(q *task.RingQueue, cond func() bool) bool {
	cur := s.currentOrPanic()
	s.mu.Lock()
	if !cond() {
		s.mu.Unlock()
		return false
	}
	succ := cur.RingNext()
	cur.Status = task.Blocked
	s.ready.Remove(cur)
	q.Insert(cur)
	s.mu.Unlock()
	s.switchTo(succ, cur)
	return true
}

// unblockLocked moves q's head onto the ready ring. Callers must hold mu.
func (s *Scheduler) unblockLocked(q *task.RingQueue) *task.PCB {
	job := q.Shift()
	if job == nil {
		return nil
	}
	job.Status = task.Ready
	s.ready.Insert(job)
	return job
}

// Unblock implements the plain (non hand-off) unblock: the head of q, if
// any, becomes READY and rejoins the ready ring.
func (s *Scheduler) Unblock(q *task.RingQueue) *task.PCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unblockLocked(q)
}

// UnblockOrElse implements ksync.Blocker.
func (s *Scheduler) UnblockOrElse(q *task.RingQueue, orElse func()) *task.PCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Empty() {
		orElse()
		return nil
	}
	return s.unblockLocked(q)
}

// UnblockAll implements ksync.Blocker.
func (s *Scheduler) UnblockAll(q *task.RingQueue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for !q.Empty() {
		s.unblockLocked(q)
		n++
	}
	return n
}

// GetPriority returns the calling task's priority.
func (s *Scheduler) GetPriority() int {
	return s.currentOrPanic().Priority
}

// SetPriority sets the calling task's priority.
func (s *Scheduler) SetPriority(p int) {
	cur := s.currentOrPanic()
	s.mu.Lock()
	cur.Priority = p
	s.mu.Unlock()
}

// Stats is a point-in-time snapshot for diagnostics and tests.
type Stats struct {
	ReadyCount       int
	RunningProcesses int
	Current          int
}

// Stats returns a snapshot of scheduler-wide counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := -1
	if s.current != nil {
		cur = s.current.ID
	}
	return Stats{
		ReadyCount:       s.ready.Len(),
		RunningProcesses: s.runningProcesses,
		Current:          cur,
	}
}

// DebugTable logs a line per live task, mirroring the informal ps-style
// dumps scattered through main.go for interactive debugging.
func (s *Scheduler) DebugTable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := 0; id < task.TableSize; id++ {
		p := s.table.Get(id)
		if p == nil {
			continue
		}
		klog.Debug(component, "pcb %d kind=%d status=%s priority=%d", p.ID, p.Kind, p.Status, p.Priority)
	}
}
