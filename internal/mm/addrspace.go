package mm

import (
	"fmt"
	"sync"
	"time"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/klog"
)

const component = "mm"

// FrameOwner identifies which task and backing image a resident frame
// was demand-paged on behalf of, the bookkeeping a dirty eviction needs
// to know which sector to write back to and ImageRegistry needs to
// reject a second, concurrent user of the same image.
type FrameOwner struct {
	TaskID  int
	ImageID int
}

// ErrImageInUse is returned by NewAddressSpace when imageID is already
// bound to a different live task's address space: the swap-area caveat
// in memory.c's header comment — a dirty page written back targets the
// sector it was demand-loaded from in the source image, so two tasks
// must never demand-page the same image concurrently or their
// write-backs would race on the same sectors.
var ErrImageInUse = fmt.Errorf("mm: backing image already in use by another task")

// ImageRegistry tracks which task currently owns each live ImageID,
// shared across every AddressSpace a Kernel constructs.
type ImageRegistry struct {
	mu     sync.Mutex
	owners map[int]int // imageID -> taskID
}

// NewImageRegistry returns a registry with nothing mapped.
func NewImageRegistry() *ImageRegistry {
	return &ImageRegistry{owners: make(map[int]int)}
}

// acquire binds imageID to taskID, or fails with ErrImageInUse if a
// different task already holds it.
func (r *ImageRegistry) acquire(imageID, taskID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[imageID]; ok && owner != taskID {
		return ErrImageInUse
	}
	r.owners[imageID] = taskID
	return nil
}

// release frees imageID for reuse by a later task.
func (r *ImageRegistry) release(imageID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, imageID)
}

// Writer writes a dirty page's current bytes back to its backing image
// at pageOffset, the write-back half of the swap-area caveat demand
// paging carries: evicting a page the task has written to must not
// silently lose that write.
type Writer interface {
	WritePage(imageID int, pageOffset uint32, data []byte) error
}

// AddressSpace binds one task's page directory to the frame pool and
// eviction policy backing its demand-paged pages, plus the swap-area
// bookkeeping memory.c warns about: the image a process demand-pages
// from doubles as its backing store, so two processes must never share
// one ImageID concurrently or their page-ins would race.
type AddressSpace struct {
	Directory  *PageDirectory
	Owner      FrameOwner
	ImageBase  uint32
	ImageLimit uint32

	pool     *FramePool
	eviction EvictionPolicy
	registry *ImageRegistry
	writer   Writer

	resident map[uint32]FrameNumber // va (page-aligned) -> backing frame
	content  map[uint32][]byte      // va (page-aligned) -> last loaded/written bytes
	dirty    map[uint32]bool        // va (page-aligned) -> written since mapped
}

// NewAddressSpace returns an address space backed by pool/eviction for
// taskID's task, whose image occupies [imageBase, imageBase+imageLimit)
// in its own coordinate space and is identified by imageID for
// swap-area dedup. registry and writer may both be nil — a nil registry
// skips the duplicate-image check, and a nil writer skips write-back on
// eviction, silently discarding dirty pages (acceptable for a kernel
// thread's own address space, which has no user-writable image to
// protect). NewAddressSpace fails with ErrImageInUse if registry is
// non-nil and imageID is already bound to a different task.
func NewAddressSpace(dir *PageDirectory, pool *FramePool, eviction EvictionPolicy, registry *ImageRegistry, writer Writer, taskID, imageID int, imageBase, imageLimit uint32) (*AddressSpace, error) {
	if registry != nil {
		if err := registry.acquire(imageID, taskID); err != nil {
			return nil, err
		}
	}
	return &AddressSpace{
		Directory:  dir,
		Owner:      FrameOwner{TaskID: taskID, ImageID: imageID},
		ImageBase:  imageBase,
		ImageLimit: imageLimit,
		pool:       pool,
		eviction:   eviction,
		registry:   registry,
		writer:     writer,
		resident:   make(map[uint32]FrameNumber),
		content:    make(map[uint32][]byte),
		dirty:      make(map[uint32]bool),
	}, nil
}

// ImageID reports which backing image this address space demand-pages
// from, for callers that only need the identifier.
func (as *AddressSpace) ImageID() int {
	return as.Owner.ImageID
}

// pageAlign rounds va down to the start of its containing page.
func pageAlign(va uint32) uint32 {
	return va &^ (PageSize - 1)
}

// ErrOutOfRange is returned by HandleFault when the faulting address does
// not fall within the task's image.
var ErrOutOfRange = fmt.Errorf("mm: address outside task image")

// Loader supplies the bytes backing one page of a task's image, standing
// in for the disk/image read the original's page-in path performs.
type Loader interface {
	LoadPage(imageID int, pageOffset uint32) ([]byte, error)
}

// HandleFault services a page fault at va: if va falls within the task's
// image, it is demand-paged in (allocating a frame, evicting a resident
// page first if the pool is exhausted); otherwise the fault is reported
// as out of range for the caller (internal/kernel's page-fault handler)
// to act on. Mirrors the page-fault handling
// path in memory.c, generalized from "read the on-disk image" to the
// Loader interface so tests can fake page contents.
func (as *AddressSpace) HandleFault(va uint32, loader Loader, flags uint32) error {
	page := pageAlign(va)
	if page < as.ImageBase || page >= as.ImageBase+as.ImageLimit {
		return ErrOutOfRange
	}
	if _, ok := as.resident[page]; ok {
		// already mapped; a fault here means a protection violation, not
		// a missing page, and is the caller's to diagnose. It is still a
		// real access, so the accessed bit and the eviction policy's
		// recency tracking both see it.
		as.Directory.SetAccessed(page)
		if frame, ok := as.resident[page]; ok {
			as.eviction.OnTouch(frame)
		}
		return nil
	}

	frame, ok := as.pool.Alloc()
	if !ok {
		victim, evicted := as.eviction.Evict()
		if !evicted {
			return fmt.Errorf("mm: frame pool exhausted and nothing to evict")
		}
		as.evictFrame(victim)
		frame, ok = as.pool.Alloc()
		if !ok {
			return fmt.Errorf("mm: frame pool exhausted after eviction")
		}
	}

	data, err := loader.LoadPage(as.Owner.ImageID, page-as.ImageBase)
	if err != nil {
		as.pool.Free(frame)
		return fmt.Errorf("mm: loading page at offset 0x%x: %w", page-as.ImageBase, err)
	}

	as.Directory.Map(page, frame, flags|FlagPresent|FlagAccessed)
	as.resident[page] = frame
	as.content[page] = data
	as.eviction.OnMap(frame)
	klog.Debug(component, "demand-paged va=0x%x image=%d frame=%d", page, as.Owner.ImageID, frame)
	return nil
}

// MarkDirty records that the task has written to the resident page
// containing va, so evictFrame writes it back instead of discarding it.
// va must already be mapped; calling it otherwise is a no-op, mirroring
// a write instruction against an address that has not yet faulted in
// having nothing to mark.
func (as *AddressSpace) MarkDirty(va uint32) {
	page := pageAlign(va)
	if _, ok := as.resident[page]; !ok {
		return
	}
	as.Directory.SetDirty(page)
	as.dirty[page] = true
}

// evictFrame finds whichever virtual page currently maps to frame,
// writes it back to its backing image first if it was written to since
// being mapped, unmaps it, and returns the frame to the pool.
func (as *AddressSpace) evictFrame(frame FrameNumber) {
	for va, f := range as.resident {
		if f != frame {
			continue
		}
		if as.dirty[va] && as.writer != nil {
			if err := as.writer.WritePage(as.Owner.ImageID, va-as.ImageBase, as.content[va]); err != nil {
				klog.Warn(component, "write-back of dirty page va=0x%x image=%d failed: %v", va, as.Owner.ImageID, err)
			}
		}
		as.Directory.Unmap(va)
		delete(as.resident, va)
		delete(as.content, va)
		delete(as.dirty, va)
		as.pool.Free(frame)
		return
	}
}

// Teardown releases every frame this address space holds and frees its
// ImageID for reuse, for use when its owning task exits.
func (as *AddressSpace) Teardown() {
	for va, frame := range as.resident {
		as.Directory.Unmap(va)
		as.eviction.OnUnmap(frame)
		as.pool.Free(frame)
		delete(as.resident, va)
		delete(as.content, va)
		delete(as.dirty, va)
	}
	if as.registry != nil {
		as.registry.release(as.Owner.ImageID)
	}
}

// Sleeper is the small surface Admit needs from the scheduler: the
// ability to put the calling (launching) task to sleep in millisecond
// units while waiting for memory pressure to ease.
type Sleeper interface {
	MSleep(ms uint64)
}

// pollInterval is how often Admit rechecks frame availability while
// waiting.
const pollInterval = 10

// Admit implements SCHEDULE_PROCESS_LAUNCHING admission control
// (config.h / config.Config.ScheduleProcessLaunching): a new process may
// only launch once the frame pool can plausibly satisfy its expected
// working set, else it waits up to cfg.NewProcessWaitForPages before
// giving up. When ScheduleProcessLaunching is false, Admit always
// succeeds immediately (the "unstable" setting documented in config.h).
func Admit(cfg config.Config, pool *FramePool, sleeper Sleeper, elapsed func() time.Duration) bool {
	if !cfg.ScheduleProcessLaunching {
		return true
	}
	want := uint32(cfg.AveragePagesPerProcess)
	for pool.Available() < want {
		if elapsed() >= cfg.NewProcessWaitForPages {
			klog.Warn(component, "admission control: gave up waiting for %d free frames", want)
			return false
		}
		sleeper.MSleep(pollInterval)
	}
	return true
}
