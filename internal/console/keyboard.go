// Package console implements the keyboard input path: a scancode-to-ASCII
// translator feeding a small blocking ring buffer that internal/kcall's
// Console interface reads from.
//
// Grounded on the keyboard daemon in the teacher's interrupt path
// (kbd_init/kbd_daemon) and its scancode table; the teacher hands the
// raw scancode from its interrupt stub off to a dedicated kernel thread
// over a channel before translating it. This kernel's interrupt path has
// no separate hardware-interrupt context to hand off from — Dispatch
// already runs on whichever task last trapped — so IRQHandler does the
// translate-and-enqueue in one step, non-blocking on a full buffer
// exactly like the teacher drops scancodes it has no room to queue.
package console

import (
	"github.com/j-os/kernel/internal/kassert"
	"github.com/j-os/kernel/internal/ksync"
	"github.com/j-os/kernel/internal/trap"
)

// scancodeTable maps a set-1 make code to its ASCII character, a direct
// port of kbd_init's table (unshifted row only: this kernel has no shift
// or caps-lock state machine yet).
var scancodeTable = map[byte]byte{
	0x01: 0x1B, 0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5', 0x07: '6',
	0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0', 0x0c: '-', 0x0d: '=', 0x0e: '\b', 0x0f: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't', 0x15: 'y', 0x16: 'u', 0x17: 'i',
	0x18: 'o', 0x19: 'p', 0x1a: '[', 0x1b: ']', 0x1c: '\n', 0x1e: 'a', 0x1f: 's',
	0x20: 'd', 0x21: 'f', 0x22: 'g', 0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x28: '\'', 0x29: '`', 0x2b: '\\', 0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v',
	0x30: 'b', 0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/', 0x37: '*',
	0x39: ' ',
}

// translate converts a raw scancode into a character, reporting false for
// key-release codes (high bit set) and unmapped make codes.
func translate(scancode byte) (byte, bool) {
	if scancode&0x80 != 0 {
		return 0, false
	}
	c, ok := scancodeTable[scancode]
	return c, ok
}

// Keyboard buffers translated characters between the IRQ handler (the
// producer) and GetChar (the consumer, called from a blocked user process
// through internal/kcall).
type Keyboard struct {
	buf  []byte
	head int
	size int

	lock     *ksync.Lock
	notEmpty *ksync.Semaphore
}

// NewKeyboard returns a keyboard whose character ring holds capacity
// bytes, built on blocker for its blocking primitives (in practice the
// same scheduler the rest of the kernel uses).
func NewKeyboard(blocker ksync.Blocker, capacity int) *Keyboard {
	kassert.True(capacity > 0, "console: keyboard buffer capacity must be positive")
	return &Keyboard{
		buf:      make([]byte, capacity),
		lock:     ksync.NewLock(blocker),
		notEmpty: ksync.NewSemaphore(blocker, 0),
	}
}

// IRQHandler is installed at trap.VecKeyboard. f.ErrorCode carries the raw
// scancode (this kernel's stand-in for the port-60h read kbd_daemon does).
// A full ring drops the incoming character rather than blocking the
// dispatching task, mirroring the fixed-size buffering the teacher's
// circbuf_t also falls back to once its backing store is full.
func (k *Keyboard) IRQHandler(f trap.Frame) {
	c, ok := translate(byte(f.ErrorCode))
	if !ok {
		return
	}
	k.lock.Acquire()
	if k.size == len(k.buf) {
		k.lock.Release()
		return
	}
	k.buf[(k.head+k.size)%len(k.buf)] = c
	k.size++
	k.lock.Release()
	k.notEmpty.Up()
}

// GetChar implements internal/kcall.Console: it blocks until a character
// is available, then dequeues it.
func (k *Keyboard) GetChar() byte {
	k.notEmpty.Down()
	k.lock.Acquire()
	c := k.buf[k.head]
	k.head = (k.head + 1) % len(k.buf)
	k.size--
	k.lock.Release()
	return c
}
