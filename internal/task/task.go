// Package task implements the process control block (PCB) and the
// doubly-linked ring queue used for both the ready ring and every
// synchronization primitive's wait queue.
//
// Ported from original_source/src/kernel/pcb.c and pcb.h. The original
// models tasks as raw pointers stitched into a ring; we keep tasks in a
// fixed pre-allocated table indexed by a small integer ID, but — since
// Go's garbage collector does not suffer the pointer-cycle ownership
// headaches a hand-rolled allocator needs to guard against — the ring
// links themselves stay as *PCB pointers into that table rather than
// index arrays. This keeps Insert/Shift/Remove a direct, idiomatic
// translation of queue_insert/queue_shift/queue_remove.
package task

import (
	"fmt"

	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/mm"
)

// TableSize mirrors PCB_TABLE_SIZE.
const TableSize = 128

// Status is one of the states in the scheduler's status machine.
type Status int

const (
	FirstTime Status = iota
	Ready
	Blocked
	Sleeping
	Exited
)

func (s Status) String() string {
	switch s {
	case FirstTime:
		return "FIRST_TIME"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	case Sleeping:
		return "SLEEPING"
	case Exited:
		return "EXITED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Kind distinguishes kernel threads from user processes.
type Kind int

const (
	KernelThread Kind = iota
	UserProcess
)

// PCB is the per-task descriptor. Fields not yet relevant to
// a given subsystem (memory, syscalls) are populated by that subsystem;
// the zero value is a valid, not-yet-admitted task.
type PCB struct {
	// identity
	ID   int
	Kind Kind

	// control
	Status      Status
	StartPC     uintptr
	Priority    int
	KernelSP    uintptr
	UserSP      uintptr
	BaseKernelStack uintptr

	// counters
	NestedCount  int
	PreemptCount int
	YieldCount   int

	// protection
	CodeSelector    uint16
	DataSelector    uint16
	SavedPICMask    uint16

	// sleeping
	WakeupTime uint64

	// memory
	AddressSpace *mm.AddressSpace

	// ring links: both nil means "not in any queue" (running, or free).
	next *PCB
	prev *PCB

	// host-testability: gate this task's body goroutine waits on until
	// the scheduler grants it the CPU (see internal/sched).
	Resume chan struct{}
	Done   chan struct{}
}

// InQueue reports whether p currently belongs to some ring.
func (p *PCB) InQueue() bool {
	return p.next != nil
}

// Table is a fixed-capacity pool of PCBs, allocated and freed by integer
// ID, mirroring the statically-allocated `pcb_t pcb[PCB_TABLE_SIZE]` array
// plus a free list (the original never reclaims this memory; we do, since
// the scheduler reaps EXITED tasks as it walks past them).
type Table struct {
	slots [TableSize]*PCB
	free  []int
	next  int
}

// NewTable returns an empty, ready-to-allocate-from task table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.free = append(t.free, TableSize-1-i)
	}
	return t
}

// ErrTableFull is returned by Alloc when every slot is occupied.
var ErrTableFull = fmt.Errorf("task: table full (limit %d)", TableSize)

// Alloc reserves a slot and returns a freshly zeroed PCB with its ID set.
func (t *Table) Alloc() (*PCB, error) {
	if len(t.free) == 0 {
		return nil, ErrTableFull
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	p := &PCB{ID: id, Status: FirstTime, Resume: make(chan struct{}, 1), Done: make(chan struct{})}
	t.slots[id] = p
	return p, nil
}

// Free returns a reaped PCB's slot to the pool.
func (t *Table) Free(p *PCB) {
	kassert.True(p.Status == Exited, "task: freeing non-exited pcb %d (%s)", p.ID, p.Status)
	kassert.True(!p.InQueue(), "task: freeing pcb %d still queued", p.ID)
	t.slots[p.ID] = nil
	t.free = append(t.free, p.ID)
}

// Get returns the PCB at id, or nil if that slot is unoccupied.
func (t *Table) Get(id int) *PCB {
	if id < 0 || id >= TableSize {
		return nil
	}
	return t.slots[id]
}
