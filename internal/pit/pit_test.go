package pit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/j-os/kernel/internal/cpu"
)

func TestProgramWritesDivisor(t *testing.T) {
	bus := cpu.NewSimBus()
	c := New(bus)
	divisor := c.Program(100, ModeSquareWave) // 1193180/100 = 11931 = 0x2E9B

	assert.Equal(t, uint16(11931), divisor)
	assert.Equal(t, uint8(0x36), bus.In8(0x43))
	assert.Equal(t, uint8(0x2E), bus.In8(0x40)) // MSB, the last byte written
}

func TestProgramRateGeneratorCommandByte(t *testing.T) {
	bus := cpu.NewSimBus()
	c := New(bus)
	c.Program(100, ModeRateGenerator)

	assert.Equal(t, uint8(0x34), bus.In8(0x43))
}

func TestProgramClampsExtremeDivisor(t *testing.T) {
	bus := cpu.NewSimBus()
	c := New(bus)
	assert.Equal(t, uint16(0xffff), c.Program(1, ModeSquareWave))
	assert.Equal(t, uint16(1), c.Program(baseFrequency*2, ModeSquareWave))
}

func TestTickIsMonotonic(t *testing.T) {
	c := New(cpu.NewSimBus())
	assert.Equal(t, uint64(0), c.Now())
	assert.Equal(t, uint64(1), c.Tick())
	assert.Equal(t, uint64(2), c.Tick())
	assert.Equal(t, uint64(2), c.Now())
}
