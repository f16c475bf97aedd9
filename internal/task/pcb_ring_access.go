package task

// RingNext exposes the next ring link for traversal by the scheduler. It
// does not mutate membership; use RingQueue's Insert/Shift/Remove for that.
func (p *PCB) RingNext() *PCB {
	return p.next
}
