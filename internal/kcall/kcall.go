// Package kcall implements the system-call surface a user process reaches
// through the syscall gate (internal/trap's vector 48): process control
// (yield, exit, get/set priority; there is no getpid call), console and
// filesystem reads, process creation, and inter-process mailboxes.
// Grounded on the argument convention in original_source/src/kernel/
// syscall.h and syscall.c; the numbering below is this package's own.
package kcall

import (
	"fmt"

	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/klog"
	"github.com/j-os/kernel/internal/ksync"
	"github.com/j-os/kernel/internal/task"
)

const component = "kcall"

// Err is the negative-sentinel error convention the syscall ABI boundary
// uses (mirroring common.Err_t): success is >= 0, failure is a small
// negative integer a user-mode caller can switch on without parsing a
// string. Everywhere else in the kernel uses plain error values; this
// type exists only at the kcall/trap boundary.
type Err int

const (
	OK           Err = 0
	ErrBadArg    Err = -1
	ErrNoProc    Err = -2
	ErrNoMbox    Err = -3
	ErrMboxFull  Err = -4
	ErrMboxEmpty Err = -5
)

// Syscall numbers reached through the gate at internal/trap.VecSyscall,
// assigned in declaration order from 0. There is no getpid call.
// SysReadDirCount and SysLoadProc replace the original's string-valued
// readdir()/loadproc(name) with an index into the process directory: a
// real INT gate's string arguments are pointers into user memory this
// simulation never models, so a process instead enumerates entries by
// index (matching how internal/kernel.ReadDir already reports them
// positionally) and loads one by that same index.
const (
	SysYield = iota
	SysExit
	SysGetPriority
	SysSetPriority
	SysCPUSpeed
	SysGetChar
	SysReadDirCount
	SysLoadProc
	SysCreateMbox
	SysMboxSend
	SysMboxRecv
	SysMboxStat
	SysCloseMbox
)

// encodeErr returns e's 32-bit two's-complement pattern zero-extended to
// a uintptr, the way EAX carries a negative return value on the
// original's syscall ABI, so a caller decodes the low 32 bits of the
// uintptr as an int32 to recover it.
func encodeErr(e Err) uintptr {
	return uintptr(uint32(int32(e)))
}

func (e Err) Error() string {
	switch e {
	case OK:
		return "ok"
	case ErrBadArg:
		return "bad argument"
	case ErrNoProc:
		return "no such process"
	case ErrNoMbox:
		return "no such mailbox"
	case ErrMboxFull:
		return "mailbox full"
	case ErrMboxEmpty:
		return "mailbox empty"
	default:
		return fmt.Sprintf("kcall error %d", int(e))
	}
}

// Scheduler is the subset of internal/sched.Scheduler the dispatch table
// needs, kept as an interface so kcall stays free of any import on
// internal/sched beyond this contract.
type Scheduler interface {
	Yield()
	Exit()
	GetPriority() int
	SetPriority(int)
}

// Console supplies one character from the keyboard, blocking until one is
// available; internal/trap's keyboard IRQ path feeds this.
type Console interface {
	GetChar() byte
}

// ProcessDirectory lists entries in the process directory baked into the
// boot image by internal/image, used by the shell to implement `ls`.
type ProcessDirectory interface {
	ReadDir() []string
}

// Loader starts a new user process from a named image, returning its PCB.
type Loader interface {
	LoadProcess(name string) (*task.PCB, error)
}

// Dispatcher holds every dependency the syscall table needs and exposes
// one method per syscall number.
type Dispatcher struct {
	Sched   Scheduler
	Blocker ksync.Blocker
	Console Console
	Dirs    ProcessDirectory
	Loader  Loader
	CPUMHz  int

	mboxes map[int]*Mbox
	nextID int
}

// NewDispatcher returns a dispatcher with no mailboxes allocated yet.
// blocker backs any mailbox the dispatcher creates; in practice it is the
// same *sched.Scheduler passed as sched.
func NewDispatcher(sched Scheduler, blocker ksync.Blocker, console Console, dirs ProcessDirectory, loader Loader, cpuMHz int) *Dispatcher {
	return &Dispatcher{
		Sched:   sched,
		Blocker: blocker,
		Console: console,
		Dirs:    dirs,
		Loader:  loader,
		CPUMHz:  cpuMHz,
		mboxes:  make(map[int]*Mbox),
	}
}

// Yield implements the yield() syscall.
func (d *Dispatcher) Yield() Err {
	d.Sched.Yield()
	return OK
}

// Exit implements the exit() syscall. Like internal/sched.Scheduler.Exit,
// it returns to its caller once another task has been dispatched.
func (d *Dispatcher) Exit() Err {
	d.Sched.Exit()
	return OK
}

// GetPriority implements getpriority().
func (d *Dispatcher) GetPriority() int {
	return d.Sched.GetPriority()
}

// SetPriority implements setpriority().
func (d *Dispatcher) SetPriority(p int) Err {
	d.Sched.SetPriority(p)
	return OK
}

// CPUSpeed implements cpuspeed(), reporting the calibrated clock rate
// used to convert MSleep millisecond arguments into ticks.
func (d *Dispatcher) CPUSpeed() int {
	return d.CPUMHz
}

// GetChar implements getchar().
func (d *Dispatcher) GetChar() byte {
	return d.Console.GetChar()
}

// ReadDir implements readdir().
func (d *Dispatcher) ReadDir() []string {
	return d.Dirs.ReadDir()
}

// LoadProc implements loadproc().
func (d *Dispatcher) LoadProc(name string) (int, Err) {
	p, err := d.Loader.LoadProcess(name)
	if err != nil {
		klog.Warn(component, "loadproc(%q) failed: %v", name, err)
		return -1, ErrNoProc
	}
	return p.ID, OK
}

// Mbox is an inter-process mailbox: a fixed-capacity circular buffer
// guarded by a lock plus a semaphore pair, so a send blocks on a full
// buffer and a receive blocks on an empty one. This design resolves the
// mailbox behavior mbox.c leaves largely unimplemented (todo_noop stubs):
// biscuit-family kernels model IPC as exactly this shape (a bounded ring
// plus send/recv semaphores), the simplest structure giving the blocking
// semantics process3/process4's producer-consumer exchange needs.
type Mbox struct {
	buf      []byte
	head     int
	size     int
	open     bool
	lock     *ksync.Lock
	notEmpty *ksync.Semaphore
	notFull  *ksync.Semaphore
}

// NewMbox returns an open mailbox with the given ring capacity, built on
// blocker for its blocking primitives.
func NewMbox(blocker ksync.Blocker, capacity int) *Mbox {
	kassert.True(capacity > 0, "kcall: mailbox capacity must be positive")
	return &Mbox{
		buf:      make([]byte, capacity),
		open:     true,
		lock:     ksync.NewLock(blocker),
		notEmpty: ksync.NewSemaphore(blocker, 0),
		notFull:  ksync.NewSemaphore(blocker, capacity),
	}
}

// Send blocks until there is room, then enqueues b.
func (m *Mbox) Send(b byte) {
	m.notFull.Down()
	m.lock.Acquire()
	m.buf[(m.head+m.size)%len(m.buf)] = b
	m.size++
	m.lock.Release()
	m.notEmpty.Up()
}

// Recv blocks until a byte is available, then dequeues it.
func (m *Mbox) Recv() byte {
	m.notEmpty.Down()
	m.lock.Acquire()
	b := m.buf[m.head]
	m.head = (m.head + 1) % len(m.buf)
	m.size--
	m.lock.Release()
	m.notFull.Up()
	return b
}

// Stat reports how many bytes are queued and the mailbox's capacity.
func (m *Mbox) Stat() (queued, capacity int) {
	m.lock.Acquire()
	queued, capacity = m.size, len(m.buf)
	m.lock.Release()
	return queued, capacity
}

// CreateMbox implements the mailbox-open syscall, returning a handle the
// caller references in later send/recv/stat/close syscalls.
func (d *Dispatcher) CreateMbox(capacity int) int {
	id := d.nextID
	d.nextID++
	d.mboxes[id] = NewMbox(d.Blocker, capacity)
	return id
}

// MboxSend implements the mailbox-send syscall.
func (d *Dispatcher) MboxSend(id int, b byte) Err {
	mb, ok := d.mboxes[id]
	if !ok || !mb.open {
		return ErrNoMbox
	}
	mb.Send(b)
	return OK
}

// MboxRecv implements the mailbox-receive syscall.
func (d *Dispatcher) MboxRecv(id int) (byte, Err) {
	mb, ok := d.mboxes[id]
	if !ok || !mb.open {
		return 0, ErrNoMbox
	}
	return mb.Recv(), OK
}

// MboxStat implements the mailbox-stat syscall.
func (d *Dispatcher) MboxStat(id int) (queued, capacity int, err Err) {
	mb, ok := d.mboxes[id]
	if !ok || !mb.open {
		return 0, 0, ErrNoMbox
	}
	q, c := mb.Stat()
	return q, c, OK
}

// CloseMbox implements the mailbox-close syscall. The handle is not
// reused; a closed mailbox's id always resolves to ErrNoMbox afterward.
func (d *Dispatcher) CloseMbox(id int) Err {
	mb, ok := d.mboxes[id]
	if !ok || !mb.open {
		return ErrNoMbox
	}
	mb.open = false
	delete(d.mboxes, id)
	return OK
}

// Dispatch is the numbered entry point the syscall gate invokes: it maps
// a syscall number and up to three word-sized arguments onto the named
// Dispatcher method that implements it, and packs that method's result
// back into a single word the way EAX carries a syscall's return value.
// A result of OK or a non-negative value decodes directly; a negative
// Err decodes via int32(ret). MboxStat packs its two results as
// (queued<<16)|capacity, since both always fit 16 bits for the mailbox
// sizes this kernel admits.
func (d *Dispatcher) Dispatch(num int, a, b, c uintptr) uintptr {
	switch num {
	case SysYield:
		return uintptr(d.Yield())
	case SysExit:
		d.Exit()
		return uintptr(OK)
	case SysGetPriority:
		return uintptr(d.GetPriority())
	case SysSetPriority:
		return uintptr(d.SetPriority(int(a)))
	case SysCPUSpeed:
		return uintptr(d.CPUSpeed())
	case SysGetChar:
		return uintptr(d.GetChar())
	case SysReadDirCount:
		return uintptr(len(d.ReadDir()))
	case SysLoadProc:
		names := d.ReadDir()
		idx := int(a)
		if idx < 0 || idx >= len(names) {
			return encodeErr(ErrBadArg)
		}
		id, err := d.LoadProc(names[idx])
		if err != OK {
			return encodeErr(err)
		}
		return uintptr(id)
	case SysCreateMbox:
		return uintptr(d.CreateMbox(int(a)))
	case SysMboxSend:
		return uintptr(d.MboxSend(int(a), byte(b)))
	case SysMboxRecv:
		v, err := d.MboxRecv(int(a))
		if err != OK {
			return encodeErr(err)
		}
		return uintptr(v)
	case SysMboxStat:
		queued, capacity, err := d.MboxStat(int(a))
		if err != OK {
			return encodeErr(err)
		}
		return uintptr(queued)<<16 | uintptr(capacity)
	case SysCloseMbox:
		return uintptr(d.CloseMbox(int(a)))
	default:
		return encodeErr(ErrBadArg)
	}
}
