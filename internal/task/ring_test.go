package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPCBs(n int) []*PCB {
	tbl := NewTable()
	out := make([]*PCB, n)
	for i := range out {
		p, err := tbl.Alloc()
		if err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}

func TestRingQueueInsertSelfLoop(t *testing.T) {
	ps := newPCBs(1)
	var q RingQueue
	q.Insert(ps[0])
	assert.Equal(t, 1, q.Len())
	assert.Same(t, ps[0], q.Head())
}

func TestRingQueueInsertKeepsHeadStable(t *testing.T) {
	ps := newPCBs(3)
	var q RingQueue
	q.Insert(ps[0])
	q.Insert(ps[1])
	q.Insert(ps[2])
	// Insert always splices before the current head, so head is stable.
	assert.Same(t, ps[0], q.Head())
	assert.Equal(t, 3, q.Len())
}

func TestRingQueueShiftFIFOOrder(t *testing.T) {
	ps := newPCBs(3)
	var q RingQueue
	for _, p := range ps {
		q.Insert(p)
	}
	// insert(q, t) splices before head, so shift order is insertion order
	// starting from the original head: ps[0], ps[1], ps[2].
	got := []*PCB{q.Shift(), q.Shift(), q.Shift()}
	require.Equal(t, ps, got)
	assert.True(t, q.Empty())
	assert.Nil(t, q.Shift())
}

func TestRingQueueShiftClearsLinks(t *testing.T) {
	ps := newPCBs(2)
	var q RingQueue
	q.Insert(ps[0])
	q.Insert(ps[1])
	p := q.Shift()
	assert.False(t, p.InQueue())
}

func TestRingQueueRemoveMiddle(t *testing.T) {
	ps := newPCBs(3)
	var q RingQueue
	for _, p := range ps {
		q.Insert(p)
	}
	q.Remove(ps[1])
	assert.Equal(t, 2, q.Len())
	assert.False(t, ps[1].InQueue())

	// remaining two still form a valid ring
	first := q.Shift()
	second := q.Shift()
	assert.True(t, q.Empty())
	assert.ElementsMatch(t, []*PCB{ps[0], ps[2]}, []*PCB{first, second})
}

func TestRingQueueRemoveOnlyElementEmptiesQueue(t *testing.T) {
	ps := newPCBs(1)
	var q RingQueue
	q.Insert(ps[0])
	q.Remove(ps[0])
	assert.True(t, q.Empty())
}

func TestRingQueueInsertAlreadyQueuedPanics(t *testing.T) {
	ps := newPCBs(1)
	var q RingQueue
	q.Insert(ps[0])
	assert.Panics(t, func() { q.Insert(ps[0]) })
}

func TestRingQueueRemoveNotQueuedPanics(t *testing.T) {
	ps := newPCBs(2)
	var q RingQueue
	q.Insert(ps[0])
	assert.Panics(t, func() { q.Remove(ps[1]) })
}

func TestTableAllocFreeRoundTrip(t *testing.T) {
	tbl := NewTable()
	p, err := tbl.Alloc()
	require.NoError(t, err)
	id := p.ID
	p.Status = Exited
	tbl.Free(p)
	assert.Nil(t, tbl.Get(id))

	p2, err := tbl.Alloc()
	require.NoError(t, err)
	assert.Equal(t, id, p2.ID)
}

func TestTableAllocExhaustion(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < TableSize; i++ {
		_, err := tbl.Alloc()
		require.NoError(t, err)
	}
	_, err := tbl.Alloc()
	assert.ErrorIs(t, err, ErrTableFull)
}
