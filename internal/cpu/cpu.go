// Package cpu models the handful of x86 primitives the rest of the kernel
// depends on directly: I/O ports, segment selectors, and the GDT. On real
// hardware these are raw IN/OUT instructions and a descriptor table loaded
// with LGDT; here they are a small interface (PortBus) so internal/pic and
// internal/pit can be driven by a fake in tests the way
// justanotherdot-biscuit's trap/IRQ goroutines are driven by channels
// instead of real interrupts.
package cpu

import "fmt"

// PortBus is the boundary between the kernel and the chipset's I/O address
// space. A real implementation backs it with inb/outb; SimBus backs it
// with an in-memory map for tests.
type PortBus interface {
	In8(port uint16) uint8
	Out8(port uint16, val uint8)
}

// SimBus is a PortBus test double that records writes and serves reads
// from an in-memory map, letting internal/pic and internal/pit be tested
// without real hardware.
type SimBus struct {
	regs map[uint16]uint8
}

// NewSimBus returns an empty simulated port bus.
func NewSimBus() *SimBus {
	return &SimBus{regs: make(map[uint16]uint8)}
}

// In8 reads the last value written to port, or 0 if nothing has been
// written yet.
func (b *SimBus) In8(port uint16) uint8 {
	return b.regs[port]
}

// Out8 records val as the current value of port.
func (b *SimBus) Out8(port uint16, val uint8) {
	b.regs[port] = val
}

// Selector is a segment selector: a GDT/LDT index, table indicator, and
// requested privilege level packed the way the CS/DS/SS registers expect.
type Selector uint16

// NewSelector builds a Selector from a GDT index and a requested privilege
// level (0 for kernel, 3 for user), mirroring SEG_SEL in seg.h.
func NewSelector(index int, rpl uint8) Selector {
	if rpl > 3 {
		panic(fmt.Sprintf("cpu: invalid rpl %d", rpl))
	}
	return Selector(index<<3 | int(rpl))
}

// Index returns the GDT index encoded in s.
func (s Selector) Index() int {
	return int(s) >> 3
}

// RPL returns the requested privilege level encoded in s.
func (s Selector) RPL() uint8 {
	return uint8(s) & 0x3
}

// Well-known selector slots, mirroring the fixed GDT layout in segment.h:
// null, kernel code, kernel data, user code, user data, and the TSS.
const (
	SelNull = iota
	SelKernelCode
	SelKernelData
	SelUserCode
	SelUserData
	SelTSS
)

// KernelCS and friends are the ready-made selectors the rest of the
// kernel threads through PCB.CodeSelector / PCB.DataSelector.
var (
	KernelCS = NewSelector(SelKernelCode, 0)
	KernelDS = NewSelector(SelKernelData, 0)
	UserCS   = NewSelector(SelUserCode, 3)
	UserDS   = NewSelector(SelUserData, 3)
)

// GDTEntry is one descriptor in the global descriptor table.
type GDTEntry struct {
	Base     uint32
	Limit    uint32
	DPL      uint8
	Code     bool
	Writable bool
}

// GDT is the fixed six-entry descriptor table the kernel installs at boot
// (null, kernel/user code and data, TSS), mirroring gdt_init() in
// start.S/main.go's segment setup.
type GDT [6]GDTEntry

// NewGDT returns the standard flat-memory-model GDT: every non-null,
// non-TSS segment spans the full 4 GiB address space, matching biscuit's
// use of a flat model with paging doing all the real protection work.
func NewGDT() GDT {
	var g GDT
	g[SelKernelCode] = GDTEntry{Base: 0, Limit: 0xffffffff, DPL: 0, Code: true, Writable: false}
	g[SelKernelData] = GDTEntry{Base: 0, Limit: 0xffffffff, DPL: 0, Code: false, Writable: true}
	g[SelUserCode] = GDTEntry{Base: 0, Limit: 0xffffffff, DPL: 3, Code: true, Writable: false}
	g[SelUserData] = GDTEntry{Base: 0, Limit: 0xffffffff, DPL: 3, Code: false, Writable: true}
	return g
}
