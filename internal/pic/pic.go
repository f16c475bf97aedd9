// Package pic drives the dual-cascaded 8259 programmable interrupt
// controller: IRQ masking, end-of-interrupt acknowledgement, and the
// spurious-IRQ7/IRQ15 workaround every PC-compatible kernel needs.
// Grounded on the PIC remap/EOI sequence in
// original_source/src/kernel/interrupt.c and the port layout documented
// there (master at 0x20/0x21, slave at 0xA0/0xA1).
package pic

import "github.com/j-os/kernel/internal/cpu"

const (
	masterCmd  = 0x20
	masterData = 0x21
	slaveCmd   = 0xA0
	slaveData  = 0xA1

	icw1Init  = 0x11
	icw4x86   = 0x01

	eoi = 0x20

	// masterOffset and slaveOffset are the IDT vectors the remapped PICs
	// fire into, moved up out of the CPU-reserved 0-31 exception range.
	masterOffset = 32
	slaveOffset  = 40

	spuriousMasterIRQ = 7
	spuriousSlaveIRQ  = 15
)

// Dual8259 models both cascaded controllers as one logical 16-line
// interrupt source.
type Dual8259 struct {
	bus  cpu.PortBus
	mask uint16 // bit i set means IRQ i is masked
}

// New returns a driver bound to bus. Call Init before use.
func New(bus cpu.PortBus) *Dual8259 {
	return &Dual8259{bus: bus, mask: 0xffff}
}

// Init remaps both controllers so IRQ0-7 land at vectors 32-39 and
// IRQ8-15 at 40-47, cascades the slave on IR2, and masks every line until
// the caller unmasks what it's prepared to handle.
func (d *Dual8259) Init() {
	d.bus.Out8(masterCmd, icw1Init)
	d.bus.Out8(slaveCmd, icw1Init)
	d.bus.Out8(masterData, masterOffset)
	d.bus.Out8(slaveData, slaveOffset)
	d.bus.Out8(masterData, 1<<2) // slave attached to master's IR2
	d.bus.Out8(slaveData, 2)     // slave's cascade identity
	d.bus.Out8(masterData, icw4x86)
	d.bus.Out8(slaveData, icw4x86)

	d.mask = 0xffff
	d.writeMask()
}

func (d *Dual8259) writeMask() {
	d.bus.Out8(masterData, uint8(d.mask))
	d.bus.Out8(slaveData, uint8(d.mask>>8))
}

// Mask disables irq (0-15).
func (d *Dual8259) Mask(irq int) {
	d.mask |= 1 << uint(irq)
	d.writeMask()
}

// Unmask enables irq (0-15).
func (d *Dual8259) Unmask(irq int) {
	d.mask &^= 1 << uint(irq)
	d.writeMask()
}

// GetMask returns the current 16-bit mask, bit i set meaning IRQ i
// disabled. Used to save/restore a task's interrupt mask across a
// preemption, per PCB.SavedPICMask.
func (d *Dual8259) GetMask() uint16 {
	return d.mask
}

// SetMask installs a previously-saved mask verbatim.
func (d *Dual8259) SetMask(mask uint16) {
	d.mask = mask
	d.writeMask()
}

// EOI acknowledges irq. Acknowledging an IRQ handled by the slave also
// acknowledges the master's cascade line.
func (d *Dual8259) EOI(irq int) {
	if irq >= 8 {
		d.bus.Out8(slaveCmd, eoi)
	}
	d.bus.Out8(masterCmd, eoi)
}

// IsSpurious reports whether irq is the master's or slave's spurious IRQ7
// and, if so, whether an EOI is actually owed: a spurious IRQ7 on the
// master needs no EOI, but a spurious IRQ15 on the slave does (the
// cascade line on the master was genuinely asserted even though the
// slave's own line was not), mirroring interrupt.c's handling comment.
func (d *Dual8259) IsSpurious(irq int) (spurious bool, needsEOI bool) {
	switch irq {
	case spuriousMasterIRQ:
		return true, false
	case spuriousSlaveIRQ:
		return true, true
	default:
		return false, true
	}
}
