// Package kernel wires every subsystem package together the way the
// teacher's main() boot sequence does: the GDT and IDT get installed, the
// 8259s are remapped and unmasked, the PIT is programmed, the scheduler
// and frame pool come up, and the syscall dispatcher and keyboard driver
// are bound to the interrupt vectors a user process actually reaches
// through. Unlike main(), Boot never runs on real hardware; its callers
// are host tests and (eventually) a simulator driving PortBus.
package kernel

import (
	"fmt"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/console"
	"github.com/j-os/kernel/internal/cpu"
	"github.com/j-os/kernel/internal/image"
	"github.com/j-os/kernel/internal/kcall"
	"github.com/j-os/kernel/internal/klog"
	"github.com/j-os/kernel/internal/mm"
	"github.com/j-os/kernel/internal/pic"
	"github.com/j-os/kernel/internal/pit"
	"github.com/j-os/kernel/internal/sched"
	"github.com/j-os/kernel/internal/task"
	"github.com/j-os/kernel/internal/trap"
)

const component = "kernel"

// timerHz is the preemption tick rate the PIT is programmed for, mirroring
// the 100 Hz rate main.go's timer setup leaves as a comment-documented
// constant.
const timerHz = 100

// irqKeyboard and irqTimer are the legacy PIC IRQ lines unmasked at boot;
// everything else stays masked until a driver claims it.
const (
	irqTimer    = 0
	irqKeyboard = 1
)

// Kernel owns every subsystem brought up at boot and the directory-index
// bookkeeping NewAddressSpace needs to honor
// config.Config.ProcessesShareKernelPageTable.
type Kernel struct {
	cfg config.Config

	GDT cpu.GDT
	IDT *trap.IDT
	PIC *pic.Dual8259
	PIT *pit.Channel0

	Sched      *sched.Scheduler
	Frames     *mm.FramePool
	Keyboard   *console.Keyboard
	Dispatcher *kcall.Dispatcher

	eviction  mm.EvictionPolicy
	kernelDir *mm.PageDirectory
	sharedIdx map[int]bool
	registry  *mm.ImageRegistry
	writer    mm.Writer

	pageLoader mm.Loader
	entries    []image.DirectoryEntry
}

// New brings a kernel's subsystems into existence but does not yet install
// interrupt handlers or start any task; call Boot for that. bus backs the
// PIC/PIT port I/O, frameCount sizes the physical frame pool, cpuMHz and
// tick feed the scheduler's MSleep conversion the same way
// internal/sched.New's callers always must, pageLoader supplies demand-paged
// image bytes on a page fault, writer (nilable) receives dirty pages
// written back on eviction, and dirEntries is the process directory
// image.ParseProcessDirectory read out of the boot image (ReadDir reports
// one synthesized name per entry, since createimage's directory format
// carries no names of its own).
func New(cfg config.Config, bus cpu.PortBus, frameCount uint32, cpuMHz int, tick func() uint64, loader kcall.Loader, pageLoader mm.Loader, writer mm.Writer, dirEntries []image.DirectoryEntry) *Kernel {
	k := &Kernel{
		cfg:        cfg,
		GDT:        cpu.NewGDT(),
		PIC:        pic.New(bus),
		PIT:        pit.New(bus),
		Frames:     mm.NewFramePool(0, frameCount),
		kernelDir:  mm.NewPageDirectory(),
		sharedIdx:  make(map[int]bool),
		registry:   mm.NewImageRegistry(),
		writer:     writer,
		pageLoader: pageLoader,
		entries:    dirEntries,
	}
	k.eviction = newEvictionPolicy(cfg.Eviction)
	k.Sched = sched.New(cfg, tick, uint64(cpuMHz))
	k.IDT = trap.NewIDT(k.Sched)
	k.Keyboard = console.NewKeyboard(k.Sched, 16)
	k.Dispatcher = kcall.NewDispatcher(k.Sched, k.Sched, k.Keyboard, k, loader, cpuMHz)
	return k
}

// newEvictionPolicy selects FIFO or random victim selection per
// config.Config.Eviction, defaulting to FIFO for an unrecognized value the
// same way config.Default does.
func newEvictionPolicy(strategy config.EvictionStrategy) mm.EvictionPolicy {
	if strategy == config.EvictionRandom {
		return mm.NewRandomPolicy()
	}
	return mm.NewFIFOPolicy()
}

// Boot remaps and unmasks the PIC, programs the PIT, and installs the
// page-fault, keyboard, and syscall-gate handlers. Mirrors main()'s
// device-attach-then-enable-interrupts ordering.
func (k *Kernel) Boot() {
	k.PIC.Init()
	k.PIT.Program(timerHz, pit.ModeSquareWave)

	k.IDT.SetHandler(trap.VecPageFault, 0, k.handlePageFault)
	k.IDT.SetHandler(trap.VecKeyboard, 0, k.Keyboard.IRQHandler)
	k.IDT.SetHandler(trap.VecSyscall, 3, k.handleSyscall)

	k.PIC.Unmask(irqTimer)
	k.PIC.Unmask(irqKeyboard)
	klog.Debug(component, "boot sequence complete, %d process directory entries", len(k.entries))
}

// handlePageFault is installed at trap.VecPageFault, replacing NewIDT's
// default fatal handler with the demand-paging path. A fault the address
// space cannot service kills a user task and aborts the system for a
// kernel thread.
func (k *Kernel) handlePageFault(f trap.Frame) {
	if f.Task == nil || f.Task.AddressSpace == nil {
		klog.Fatal(component, "page fault with no address space: task=%v addr=0x%x", f.Task, f.FaultAddr)
		return
	}
	if err := f.Task.AddressSpace.HandleFault(f.FaultAddr, k.pageLoader, mm.FlagUser|mm.FlagWrite); err != nil {
		if f.Task.Kind == task.UserProcess {
			klog.Warn(component, "killing user task %d: page fault at 0x%x: %v", f.Task.ID, f.FaultAddr, err)
			k.Sched.Exit()
			return
		}
		klog.Fatal(component, "unrecoverable page fault: task=%d addr=0x%x: %v", f.Task.ID, f.FaultAddr, err)
	}
}

// handleSyscall is installed at trap.VecSyscall, DPL 3: it unpacks the
// numbered syscall ABI out of f and hands it to the Dispatcher, writing
// the result back through f.Ret for the trapping code to read.
func (k *Kernel) handleSyscall(f trap.Frame) {
	ret := k.Dispatcher.Dispatch(f.SyscallNum, f.Args[0], f.Args[1], f.Args[2])
	if f.Ret != nil {
		*f.Ret = ret
	}
}

// MapKernelRegion identity-maps count frames starting at base into the
// shared kernel directory and records which directory indices it touched,
// so a later NewAddressSpace call can propagate exactly those into a
// fresh process's directory.
func (k *Kernel) MapKernelRegion(base mm.FrameNumber, count uint32) {
	for i := uint32(0); i < count; i++ {
		va := (uint32(base) + i) * mm.PageSize
		k.kernelDir.Map(va, base+mm.FrameNumber(i), mm.FlagPresent|mm.FlagWrite)
		k.sharedIdx[mm.DirectoryIndex(va)] = true
	}
}

// NewAddressSpace builds the address space a freshly loaded process runs
// in, sharing or cloning the kernel's page tables per
// config.Config.ProcessesShareKernelPageTable, and giving pinned
// processes (the shell, when config.Config.PinShell is set) a private
// eviction policy so their resident pages are never candidates for
// eviction by a fault in some other process's address space — the
// policy only ever learns about frames it is told to OnMap, and a pinned
// address space is never told to OnMap into the shared one. It fails
// with mm.ErrImageInUse if taskID's imageID is already bound to a
// different live task, per the swap-area write-back constraint.
func (k *Kernel) NewAddressSpace(taskID, imageID int, imageBase, imageLimit uint32, pinned bool) (*mm.AddressSpace, error) {
	var dir *mm.PageDirectory
	if k.cfg.ProcessesShareKernelPageTable {
		dir = mm.NewPageDirectory()
		for di := range k.sharedIdx {
			mm.ShareTable(dir, k.kernelDir, di)
		}
	} else {
		dir = k.kernelDir.Clone()
	}

	eviction := k.eviction
	if pinned {
		eviction = newEvictionPolicy(k.cfg.Eviction)
	}
	return mm.NewAddressSpace(dir, k.Frames, eviction, k.registry, k.writer, taskID, imageID, imageBase, imageLimit)
}

// SpawnShell launches the shell as a user process whose image occupies
// [imageBase, imageBase+imageLimit) of imageID, installing its address
// space (pinned against eviction when config.Config.PinShell is set)
// before handing control to body.
func (k *Kernel) SpawnShell(imageID int, imageBase, imageLimit uint32, body func(p *task.PCB)) (*task.PCB, error) {
	return k.Sched.Spawn(task.UserProcess, 0, func(p *task.PCB) {
		as, err := k.NewAddressSpace(p.ID, imageID, imageBase, imageLimit, k.cfg.PinShell)
		if err != nil {
			klog.Fatal(component, "spawn shell: %v", err)
		}
		p.AddressSpace = as
		body(p)
	})
}

// ReadDir implements internal/kcall.ProcessDirectory. createimage's
// process directory format carries only {location,size} pairs, not names,
// so entries are reported positionally.
func (k *Kernel) ReadDir() []string {
	names := make([]string, len(k.entries))
	for i := range k.entries {
		names[i] = fmt.Sprintf("proc%d", i)
	}
	return names
}

// DirectoryEntry returns the location/size pair for the name ReadDir
// reported at index i, or false if out of range.
func (k *Kernel) DirectoryEntry(i int) (image.DirectoryEntry, bool) {
	if i < 0 || i >= len(k.entries) {
		return image.DirectoryEntry{}, false
	}
	return k.entries[i], true
}
