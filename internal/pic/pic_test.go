package pic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/j-os/kernel/internal/cpu"
)

func TestInitUnmasksNothing(t *testing.T) {
	bus := cpu.NewSimBus()
	d := New(bus)
	d.Init()
	assert.Equal(t, uint16(0xffff), d.GetMask())
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	bus := cpu.NewSimBus()
	d := New(bus)
	d.Init()

	d.Unmask(1) // keyboard
	assert.Equal(t, uint16(0xfffd), d.GetMask())

	d.Mask(1)
	assert.Equal(t, uint16(0xffff), d.GetMask())
}

func TestSpuriousIRQ7NeedsNoEOI(t *testing.T) {
	d := New(cpu.NewSimBus())
	spurious, needsEOI := d.IsSpurious(7)
	assert.True(t, spurious)
	assert.False(t, needsEOI)
}

func TestSpuriousIRQ15StillNeedsEOI(t *testing.T) {
	d := New(cpu.NewSimBus())
	spurious, needsEOI := d.IsSpurious(15)
	assert.True(t, spurious)
	assert.True(t, needsEOI)
}

func TestRealIRQNotSpurious(t *testing.T) {
	d := New(cpu.NewSimBus())
	spurious, _ := d.IsSpurious(1)
	assert.False(t, spurious)
}
