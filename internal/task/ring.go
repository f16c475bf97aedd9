package task

import (
	"golang.org/x/exp/constraints"

	"github.com/j-os/kernel/internal/kassert"
)

// boundedCount increments n by one, aborting if that would exceed limit.
// Both ring-walk loops below use it so a ring that fails to cycle back to
// its head (a corrupted next/prev splice) aborts instead of looping
// forever, rather than duplicating the same kassert at each call site.
func boundedCount[T constraints.Integer](n, limit T) T {
	kassert.True(n <= limit, "task: ring queue does not wrap within table size")
	return n + 1
}

// RingQueue is a circular doubly-linked list of tasks: the ready ring, or
// a synchronization primitive's wait queue. The zero value is an empty
// queue.
type RingQueue struct {
	head *PCB
}

// Empty reports whether the queue holds no tasks.
func (q *RingQueue) Empty() bool {
	return q.head == nil
}

// Head returns the current head of the queue, or nil if empty. It does
// not remove the task.
func (q *RingQueue) Head() *PCB {
	return q.head
}

// Insert splices p into q, immediately before the current head, so the
// head does not change. p must not currently belong to any queue.
// Mirrors queue_insert() in pcb.c.
func (q *RingQueue) Insert(p *PCB) {
	kassert.True(!p.InQueue(), "task: pcb %d already queued", p.ID)
	if q.head == nil {
		p.next = p
		p.prev = p
		q.head = p
		return
	}
	p.prev = q.head.prev
	p.next = q.head
	p.prev.next = p
	p.next.prev = p
}

// Shift removes and returns the head of q, or nil if q is empty. Mirrors
// queue_shift().
func (q *RingQueue) Shift() *PCB {
	if q.head == nil {
		return nil
	}
	p := q.head
	if p.next == p {
		q.head = nil
	} else {
		p.prev.next = p.next
		p.next.prev = p.prev
		q.head = p.next
	}
	p.next = nil
	p.prev = nil
	return p
}

// Remove stitches p out of q. p must currently belong to q. Mirrors
// queue_remove(), including its position-check assertion (queue_pos()).
func (q *RingQueue) Remove(p *PCB) {
	kassert.True(q.contains(p), "task: pcb %d must be in queue to remove", p.ID)
	if q.head == p && p.next == p {
		q.head = nil
	} else if q.head == p {
		q.head = p.next
	}
	p.prev.next = p.next
	p.next.prev = p.prev
	p.next = nil
	p.prev = nil
}

// Len walks the ring defensively, bounded by TableSize, mirroring the
// wrap-detection assertions in queue_pos().
func (q *RingQueue) Len() int {
	if q.head == nil {
		return 0
	}
	n := 1
	for cur := q.head.next; cur != q.head; cur = cur.next {
		n = boundedCount(n, TableSize)
	}
	return n
}

func (q *RingQueue) contains(p *PCB) bool {
	if q.head == nil {
		return false
	}
	cur := q.head
	for i := 0; ; i = boundedCount(i, TableSize) {
		if cur == p {
			return true
		}
		cur = cur.next
		if cur == q.head {
			return false
		}
	}
}
