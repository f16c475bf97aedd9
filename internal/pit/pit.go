// Package pit drives the 8253/8254 programmable interval timer's channel
// 0, the source of the periodic timer interrupt the scheduler uses for
// preemption, plus a free-running tick counter standing in for RDTSC.
// Grounded on the PIT programming sequence referenced in
// original_source/src/kernel/interrupt.c's timer setup.
package pit

import (
	"sync/atomic"

	"github.com/j-os/kernel/internal/cpu"
)

const (
	channel0Data = 0x40
	modeCmd      = 0x43

	// baseFrequency is the PIT's fixed oscillator frequency in Hz.
	baseFrequency = 1193180

	// accessLobyteHibyte selects 16-bit lobyte-then-hibyte access mode,
	// channel 0, binary (not BCD) counting — the access/channel/BCD bits
	// common to every mode this driver programs.
	accessLobyteHibyte = 0x30
)

// Mode selects the PIT's counting mode, mirroring the MODE field
// pit_8235.c packs into the mode/command register.
type Mode uint8

const (
	// ModeRateGenerator is mode 2: the output stays high and pulses low
	// for one clock once per divisor count, the shape the original uses
	// to drive the timer interrupt.
	ModeRateGenerator Mode = 2
	// ModeSquareWave is mode 3: the output alternates high/low at half
	// the divisor's period each.
	ModeSquareWave Mode = 3
)

// commandByte packs mode into the mode/command register's layout.
func commandByte(mode Mode) uint8 {
	return accessLobyteHibyte | uint8(mode)<<1
}

// Channel0 programs the timer and exposes a monotonic tick counter a host
// test can advance by calling Tick, standing in for RDTSC since Go has no
// portable way to read the real timestamp counter.
type Channel0 struct {
	bus   cpu.PortBus
	ticks uint64
}

// New returns a driver bound to bus.
func New(bus cpu.PortBus) *Channel0 {
	return &Channel0{bus: bus}
}

// Program configures channel 0 to fire at targetHz in the given mode,
// computing and returning the 16-bit divisor the PIT hardware actually
// takes so a caller (or a test) can verify the effective rate instead of
// only the requested one.
func (c *Channel0) Program(targetHz int, mode Mode) uint16 {
	divisor := baseFrequency / targetHz
	if divisor < 1 {
		divisor = 1
	}
	if divisor > 0xffff {
		divisor = 0xffff
	}
	c.bus.Out8(modeCmd, commandByte(mode))
	c.bus.Out8(channel0Data, uint8(divisor&0xff))
	c.bus.Out8(channel0Data, uint8(divisor>>8))
	return uint16(divisor)
}

// Tick advances the free-running counter by one and returns the new
// value. The timer interrupt handler calls this once per firing; tests
// call it directly to simulate elapsed time without a real clock.
func (c *Channel0) Tick() uint64 {
	return atomic.AddUint64(&c.ticks, 1)
}

// Now returns the current tick count without advancing it, suitable as
// the tick source internal/sched.New expects.
func (c *Channel0) Now() uint64 {
	return atomic.LoadUint64(&c.ticks)
}
