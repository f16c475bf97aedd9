// Package mm implements the kernel's physical frame pool, page tables,
// address spaces, and page-fault-driven demand paging. Grounded on
// original_source/src/kernel/memory.c's alloc_memory bump allocator and
// page-table helpers (get_directory_index, get_table_index,
// table_map_page, dir_ins_table).
package mm

import "github.com/j-os/kernel/internal/kassert"

// spinlock is a zero-width no-op lock with the same shape as
// ksync.Spinlock. mm cannot import internal/ksync: ksync imports
// internal/task, which imports this package.
type spinlock struct{}

func (*spinlock) Acquire() {}
func (*spinlock) Release() {}

// PageSize is the x86 4 KiB page size.
const PageSize = 4096

// FrameNumber identifies a physical page frame by index, not byte
// address, matching the original's pfn-based bookkeeping.
type FrameNumber uint32

// FramePool is the bump allocator over a fixed region of physical memory,
// with freed frames recycled via a free list. alloc_memory in the
// original grabs a spinlock around the bump pointer and free list;
// spinlock here is a no-op sentinel since the
// scheduler already guarantees only one task body runs at a time.
type FramePool struct {
	lock spinlock

	base  FrameNumber
	limit FrameNumber
	next  FrameNumber
	free  []FrameNumber
}

// NewFramePool returns a pool managing frames [base, base+count).
func NewFramePool(base FrameNumber, count uint32) *FramePool {
	return &FramePool{base: base, limit: base + FrameNumber(count), next: base}
}

// Alloc returns a fresh frame, preferring the free list (LIFO, matching
// the original's stack-based free list) over extending the bump pointer.
// The second return is false if the pool is exhausted.
func (p *FramePool) Alloc() (FrameNumber, bool) {
	p.lock.Acquire()
	defer p.lock.Release()

	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]
		return f, true
	}
	if p.next >= p.limit {
		return 0, false
	}
	f := p.next
	p.next++
	return f, true
}

// Free returns f to the pool.
func (p *FramePool) Free(f FrameNumber) {
	p.lock.Acquire()
	defer p.lock.Release()
	kassert.True(f >= p.base && f < p.limit, "mm: frame %d out of pool range", f)
	p.free = append(p.free, f)
}

// Capacity returns the total number of frames the pool manages.
func (p *FramePool) Capacity() uint32 {
	return uint32(p.limit - p.base)
}

// Available reports how many frames are currently unallocated.
func (p *FramePool) Available() uint32 {
	p.lock.Acquire()
	defer p.lock.Release()
	return uint32(p.limit-p.next) + uint32(len(p.free))
}
