// Package trap implements the interrupt descriptor table and the
// exception/IRQ/syscall dispatch built on top of it. Grounded on the full
// exception taxonomy in original_source/src/kernel/interrupt.c (the
// distilled spec only mentions the page fault and the syscall gate by
// name; the rest of the CPU-reserved vectors 0-19 are supplemented here
// since a complete kernel must at minimum diagnose them instead of
// silently misbehaving).
//
// Real hardware dispatches into the IDT on an asynchronous CPU event.
// This package instead exposes Dispatch, called explicitly wherever a
// fault or IRQ is simulated; the timer IRQ in particular is simulated by
// task bodies calling internal/sched's Safepoint at loop back-edges
// rather than by an uncontrollable asynchronous interrupt.
package trap

import (
	"fmt"

	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/klog"
	"github.com/j-os/kernel/internal/task"
)

const component = "trap"

// Vector numbers for the CPU-reserved exceptions (0-19), the remapped IRQ
// range (32-47, see internal/pic), and the syscall gate (48).
const (
	VecDivideError               = 0
	VecDebug                     = 1
	VecNMI                       = 2
	VecBreakpoint                = 3
	VecOverflow                  = 4
	VecBoundRange                = 5
	VecInvalidOpcode             = 6
	VecDeviceNotAvailable        = 7
	VecDoubleFault                = 8
	VecCoprocessorSegmentOverrun = 9
	VecInvalidTSS                = 10
	VecSegmentNotPresent         = 11
	VecStackSegmentFault         = 12
	VecGeneralProtectionFault    = 13
	VecPageFault                 = 14

	// vecLastException is the highest CPU-reserved vector given the
	// default exception handler.
	vecLastException = 19

	VecIRQBase = 32
	VecTimer   = VecIRQBase + 0
	VecKeyboard = VecIRQBase + 1
	VecDisk     = VecIRQBase + 14

	VecSyscall = 48

	numVectors = 49
)

// Frame is the (simulated) trapped machine state handed to a Handler.
// ErrorCode and FaultAddr are only meaningful for the exceptions that
// push an error code or set CR2 on real hardware; SyscallNum, Args, and
// Ret are only meaningful at the syscall gate (VecSyscall), carrying the
// register-based ABI INT 48 would: the syscall number and up to three
// word-sized arguments in, a single word-sized result out. Ret is a
// pointer since Dispatch hands the handler a copy of Frame by value —
// a handler writes its result through *Ret for the caller to read back.
type Frame struct {
	Vector    int
	ErrorCode uint32
	FaultAddr uint32
	Task      *task.PCB

	SyscallNum int
	Args       [3]uintptr
	Ret        *uintptr
}

// Handler processes one trapped event.
type Handler func(f Frame)

type gate struct {
	present bool
	dpl     uint8
	handler Handler
}

// Killer exits the calling task. internal/sched.Scheduler implements it
// via Exit(). The default exception handler uses it to kill only a
// faulting user-mode task, keeping the rest of the system running,
// instead of the kassert-style abort a kernel-mode fault still takes.
type Killer interface {
	Exit()
}

// IDT is the 49-entry interrupt descriptor table (0-19 exceptions, 32-47
// IRQs, 48 the syscall gate).
type IDT struct {
	gates  [numVectors]gate
	killer Killer
}

// NewIDT returns a table with every CPU exception wired to a default
// diagnostic handler and everything else absent, mirroring the
// DFLT_HDLR_EXCEPTION/DFLT_HDLR_INTERRUPT macros in interrupt.c. killer
// is consulted by that default handler to kill a faulting user task
// rather than abort the system; pass nil if no task ever faults in user
// mode in this configuration (e.g. a unit test exercising only the
// system-fatal path).
func NewIDT(killer Killer) *IDT {
	idt := &IDT{killer: killer}
	for v := 0; v <= vecLastException; v++ {
		idt.SetHandler(v, 0, idt.fatalExceptionHandler)
	}
	return idt
}

// SetHandler installs h at vector with the given gate privilege level
// (0 reachable only from kernel mode, 3 reachable from user mode — only
// the syscall gate is normally DPL 3).
func (idt *IDT) SetHandler(vector int, dpl uint8, h Handler) {
	idt.gates[vector] = gate{present: true, dpl: dpl, handler: h}
}

// Dispatch simulates vector firing with the given frame fields. cpl is the
// privilege level the (simulated) CPU was running at when the event fired;
// a gate whose dpl is lower than cpl triggers a general-protection fault,
// mirroring real hardware's privilege check on INT n.
func (idt *IDT) Dispatch(vector int, cpl uint8, f Frame) {
	if vector < 0 || vector >= numVectors {
		kassert.Abort("trap: vector %d out of range", vector)
	}
	g := idt.gates[vector]
	if !g.present {
		kassert.Abort("trap: vector %d has no handler installed", vector)
	}
	if cpl > g.dpl && vector != VecPageFault {
		// a user-mode INT against a kernel-only gate is itself a #GP
		idt.Dispatch(VecGeneralProtectionFault, 0, Frame{Vector: VecGeneralProtectionFault, Task: f.Task})
		return
	}
	f.Vector = vector
	g.handler(f)
}

var exceptionNames = map[int]string{
	VecDivideError:               "divide error",
	VecDebug:                     "debug exception",
	VecNMI:                       "non-maskable interrupt",
	VecBreakpoint:                "breakpoint",
	VecOverflow:                  "overflow",
	VecBoundRange:                "bound range exceeded",
	VecInvalidOpcode:             "invalid opcode",
	VecDeviceNotAvailable:        "device not available",
	VecDoubleFault:               "double fault",
	VecCoprocessorSegmentOverrun: "coprocessor segment overrun",
	VecInvalidTSS:                "invalid TSS",
	VecSegmentNotPresent:         "segment not present",
	VecStackSegmentFault:         "stack segment fault",
	VecGeneralProtectionFault:    "general protection fault",
	VecPageFault:                 "page fault",
}

// dumpException formats a one-line diagnostic, mirroring dump_exception()
// in interrupt.c.
func dumpException(f Frame) string {
	name := exceptionNames[f.Vector]
	if name == "" {
		name = fmt.Sprintf("exception %d", f.Vector)
	}
	taskID := -1
	if f.Task != nil {
		taskID = f.Task.ID
	}
	return fmt.Sprintf("%s (vector %d) task=%d errcode=0x%x faultaddr=0x%x", name, f.Vector, taskID, f.ErrorCode, f.FaultAddr)
}

// fatalExceptionHandler is the default handler for every CPU exception
// that the kernel does not otherwise specialize (all but the page fault,
// which internal/kernel overrides via SetHandler during Boot).
// A fault in a user process's task is fatal only to that task — the
// kernel kills it via idt.killer and keeps running everything else; a
// fault with no task or a kernel-mode task is fatal to the whole system,
// mirroring spec.md's fatal-to-task vs fatal-to-system distinction.
func (idt *IDT) fatalExceptionHandler(f Frame) {
	if f.Task != nil && f.Task.Kind == task.UserProcess && idt.killer != nil {
		klog.Warn(component, "killing user task: %s", dumpException(f))
		idt.killer.Exit()
		return
	}
	klog.Fatal(component, "unhandled exception: %s", dumpException(f))
}
