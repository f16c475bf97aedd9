package kernel

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-os/kernel/internal/config"
	"github.com/j-os/kernel/internal/cpu"
	"github.com/j-os/kernel/internal/image"
	"github.com/j-os/kernel/internal/kcall"
	"github.com/j-os/kernel/internal/mm"
	"github.com/j-os/kernel/internal/task"
	"github.com/j-os/kernel/internal/trap"
)

type fakePageLoader struct{ fail bool }

func (l *fakePageLoader) LoadPage(imageID int, pageOffset uint32) ([]byte, error) {
	if l.fail {
		return nil, fmt.Errorf("simulated disk error")
	}
	return make([]byte, mm.PageSize), nil
}

type fakeProcLoader struct{}

func (l *fakeProcLoader) LoadProcess(name string) (*task.PCB, error) {
	return nil, fmt.Errorf("not implemented in tests")
}

func newTestKernel(t *testing.T, cfg config.Config) *Kernel {
	t.Helper()
	var ticks uint64
	tick := func() uint64 { return atomic.AddUint64(&ticks, 1) }
	dirs := []image.DirectoryEntry{{Location: 4, Size: 1}, {Location: 5, Size: 1}}
	return New(cfg, cpu.NewSimBus(), 16, 100, tick, &fakeProcLoader{}, &fakePageLoader{}, nil, dirs)
}

func TestBootUnmasksTimerAndKeyboard(t *testing.T) {
	k := newTestKernel(t, config.Default())
	k.Boot()

	mask := k.PIC.GetMask()
	assert.Zero(t, mask&(1<<irqTimer), "timer IRQ should be unmasked")
	assert.Zero(t, mask&(1<<irqKeyboard), "keyboard IRQ should be unmasked")
}

func TestReadDirReportsPositionalNames(t *testing.T) {
	k := newTestKernel(t, config.Default())
	assert.Equal(t, []string{"proc0", "proc1"}, k.ReadDir())

	e, ok := k.DirectoryEntry(1)
	require.True(t, ok)
	assert.Equal(t, image.DirectoryEntry{Location: 5, Size: 1}, e)

	_, ok = k.DirectoryEntry(2)
	assert.False(t, ok)
}

func TestPageFaultHandlerDemandPagesWithinTaskImage(t *testing.T) {
	k := newTestKernel(t, config.Default())
	k.Boot()

	done := make(chan struct{})
	p, err := k.Sched.Spawn(task.UserProcess, 0, func(p *task.PCB) {
		as, err := k.NewAddressSpace(p.ID, 1, 0x8000000, 0x2000, false)
		require.NoError(t, err)
		p.AddressSpace = as
		k.handlePageFault(trap.Frame{FaultAddr: 0x8000010, Task: p})
		close(done)
	})
	require.NoError(t, err)

	k.Sched.Start()
	<-done
	<-p.Done

	e, exists := p.AddressSpace.Directory.Translate(0x8000000)
	assert.True(t, exists)
	assert.True(t, e.Present())
}

func TestNewAddressSpaceSharesKernelTablesWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.ProcessesShareKernelPageTable = true
	k := newTestKernel(t, cfg)
	k.MapKernelRegion(0, 4)

	as1, err := k.NewAddressSpace(1, 1, 0x100000, 0x1000, false)
	require.NoError(t, err)
	as2, err := k.NewAddressSpace(2, 2, 0x100000, 0x1000, false)
	require.NoError(t, err)

	e1, _ := as1.Directory.Translate(0)
	e2, _ := as2.Directory.Translate(0)
	assert.True(t, e1.Present())
	assert.Equal(t, e1, e2)
}

func TestNewAddressSpaceClonesWhenNotSharing(t *testing.T) {
	cfg := config.Default()
	cfg.ProcessesShareKernelPageTable = false
	k := newTestKernel(t, cfg)
	k.MapKernelRegion(0, 4)

	as, err := k.NewAddressSpace(1, 1, 0x100000, 0x1000, false)
	require.NoError(t, err)
	as.Directory.Unmap(0)

	e, _ := k.kernelDir.Translate(0)
	assert.True(t, e.Present(), "unmapping the clone must not affect the shared kernel directory")
}

func TestSpawnShellPinsAddressSpaceWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.PinShell = true
	k := newTestKernel(t, cfg)

	var sawAddressSpace bool
	done := make(chan struct{})
	p, err := k.SpawnShell(3, 0, mm.PageSize, func(p *task.PCB) {
		sawAddressSpace = p.AddressSpace != nil
		close(done)
	})
	require.NoError(t, err)

	k.Sched.Start()
	<-done
	<-p.Done

	assert.True(t, sawAddressSpace)
}

func TestPinnedAddressSpaceIsolatesEviction(t *testing.T) {
	k := newTestKernel(t, config.Default())

	pinned, err := k.NewAddressSpace(1, 1, 0, 16*mm.PageSize, true)
	require.NoError(t, err)
	ordinary, err := k.NewAddressSpace(2, 2, 0, 3*mm.PageSize, false)
	require.NoError(t, err)

	// Exhaust the tiny pool with the pinned task's own pages; the shared
	// policy never learns about them, so an ordinary-task fault finds
	// nothing of the pinned task's to evict.
	require.NoError(t, pinned.HandleFault(0, &fakePageLoader{}, 0))
	for i := uint32(1); i < 16; i++ {
		require.NoError(t, pinned.HandleFault(i*mm.PageSize, &fakePageLoader{}, 0))
	}

	err = ordinary.HandleFault(0, &fakePageLoader{}, 0)
	assert.Error(t, err, "pool exhausted by the pinned task, nothing left for ordinary to evict")
}

func TestNewAddressSpaceRejectsDuplicateImageAcrossTasks(t *testing.T) {
	k := newTestKernel(t, config.Default())

	_, err := k.NewAddressSpace(1, 7, 0, mm.PageSize, false)
	require.NoError(t, err)

	_, err = k.NewAddressSpace(2, 7, 0, mm.PageSize, false)
	assert.ErrorIs(t, err, mm.ErrImageInUse)
}

// TestSyscallRoundTripThroughGate exercises the full syscall ABI: a task
// sets up a trap.Frame with a syscall number and arguments, dispatches it
// through IDT.Dispatch at the DPL-3 syscall gate exactly as a user-mode
// INT 48 would, and reads the result back through Frame.Ret.
func TestSyscallRoundTripThroughGate(t *testing.T) {
	k := newTestKernel(t, config.Default())
	k.Boot()

	var getRet, setRet, getAfterRet uintptr
	done := make(chan struct{})
	p, err := k.Sched.Spawn(task.UserProcess, 5, func(p *task.PCB) {
		k.IDT.Dispatch(trap.VecSyscall, 3, trap.Frame{
			Task:       p,
			SyscallNum: kcall.SysGetPriority,
			Ret:        &getRet,
		})
		k.IDT.Dispatch(trap.VecSyscall, 3, trap.Frame{
			Task:       p,
			SyscallNum: kcall.SysSetPriority,
			Args:       [3]uintptr{9},
			Ret:        &setRet,
		})
		k.IDT.Dispatch(trap.VecSyscall, 3, trap.Frame{
			Task:       p,
			SyscallNum: kcall.SysGetPriority,
			Ret:        &getAfterRet,
		})
		close(done)
	})
	require.NoError(t, err)

	k.Sched.Start()
	<-done
	<-p.Done

	assert.Equal(t, uintptr(5), getRet)
	assert.Equal(t, uintptr(kcall.OK), setRet)
	assert.Equal(t, uintptr(9), getAfterRet)
}
